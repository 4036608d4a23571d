package eviction

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomSelectsRoughlyOnePerDenominator(t *testing.T) {
	p := NewRandom(rand.New(rand.NewSource(1)), 2)
	const n = 10000
	selected := 0
	for i := 0; i < n; i++ {
		if p.Evict(i, n) {
			selected++
		}
	}
	// 1/2 sampling over 10k trials stays well within these bounds.
	assert.Greater(t, selected, n/2-500)
	assert.Less(t, selected, n/2+500)
}

func TestRandomDenominatorOneAlwaysEvicts(t *testing.T) {
	p := NewRandom(rand.New(rand.NewSource(1)), 1)
	for i := 0; i < 100; i++ {
		assert.True(t, p.Evict(i, 100))
	}
}

func TestFirstK(t *testing.T) {
	p := NewFirstK(3)
	assert.True(t, p.Evict(0, 10))
	assert.True(t, p.Evict(2, 10))
	assert.False(t, p.Evict(3, 10))
}

func TestNone(t *testing.T) {
	p := None()
	for i := 0; i < 10; i++ {
		assert.False(t, p.Evict(i, 10))
	}
}

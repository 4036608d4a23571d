package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsInvariantError(t *testing.T) {
	err := &InvariantError{Op: "writeback", Addr: 0x2000}
	assert.True(t, IsInvariantError(err))
	assert.True(t, IsInvariantError(fmt.Errorf("persist: %w", err)))
	assert.False(t, IsInvariantError(ErrRegionNotFound))
	assert.Contains(t, err.Error(), "0x2000")
}

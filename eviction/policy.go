// Package eviction provides the entry-selection policies used when a tracked
// container (cache store, write buffer) grows past its capacity.
//
// The default policy is an independent random coin flip per entry. This is
// deliberate: it emulates the nondeterministic order in which a real cache
// controller may evict lines, which is precisely the ordering the tool must
// not assume is convenient for the program under test. LRU would be wrong
// here, not just different.
package eviction

import "math/rand"

// Policy decides, entry by entry, which members of an over-capacity
// container are written back during an eviction sweep. i is the entry's
// position in iteration order and total the container size at sweep start.
type Policy interface {
	Evict(i, total int) bool
}

type randomPolicy struct {
	r     *rand.Rand
	denom int
}

// NewRandom returns the default policy: each entry is selected with
// probability 1/denominator. A nil rng uses the shared global source.
func NewRandom(r *rand.Rand, denominator int) Policy {
	if denominator < 1 {
		denominator = 1
	}
	return &randomPolicy{r: r, denom: denominator}
}

func (p *randomPolicy) Evict(int, int) bool {
	if p.r != nil {
		return p.r.Intn(p.denom) == 0
	}
	return rand.Intn(p.denom) == 0
}

type firstK struct {
	k int
}

// NewFirstK returns a deterministic policy that selects the first k entries
// in iteration order. Tests use it to make eviction reproducible.
func NewFirstK(k int) Policy {
	return firstK{k: k}
}

func (p firstK) Evict(i, _ int) bool {
	return i < p.k
}

// None never evicts.
func None() Policy {
	return firstK{k: 0}
}

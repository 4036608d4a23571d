package region

import "github.com/RoaringBitmap/roaring/roaring64"

// TransientSet records byte addresses that are deliberately excluded from
// persistence tracking even when they fall inside a registered region.
// Ranges are stored per byte in a roaring bitmap, so overlapping or repeated
// marks collapse for free.
type TransientSet struct {
	bits *roaring64.Bitmap
}

// NewTransientSet creates an empty transient set.
func NewTransientSet() *TransientSet {
	return &TransientSet{bits: roaring64.New()}
}

// Add marks [base, base+size) as transient.
func (s *TransientSet) Add(base, size uint64) {
	if size == 0 {
		return
	}
	s.bits.AddRange(base, base+size)
}

// Contains reports whether addr has been marked transient.
func (s *TransientSet) Contains(addr uint64) bool {
	return s.bits.Contains(addr)
}

// Bytes returns the number of distinct transient bytes recorded.
func (s *TransientSet) Bytes() uint64 {
	return s.bits.GetCardinality()
}

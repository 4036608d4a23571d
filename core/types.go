package core

import "math/bits"

// CachelineSize is the tracking granule for dirty/flush state. Stores are
// recorded, flushed and written back in units of this size, and dirty bits
// are kept as one bit per byte in a single uint64 mask.
const CachelineSize = 64

// StackID is an opaque, comparable identity for a captured call stack.
// The engine only needs equality over these; formatting is the job of the
// callstack provider that produced them. Zero means "no stack captured".
type StackID uint64

// AlignDown returns the cacheline-aligned base of addr.
func AlignDown(addr uint64) uint64 {
	return addr &^ (CachelineSize - 1)
}

// LineOffset returns the byte offset of addr within its cacheline.
func LineOffset(addr uint64) uint64 {
	return addr & (CachelineSize - 1)
}

// IsAligned reports whether addr is cacheline-aligned.
func IsAligned(addr uint64) bool {
	return addr&(CachelineSize-1) == 0
}

// DirtyMask returns the dirty-bit mask covering n bytes starting at byte
// offset off within a cacheline.
func DirtyMask(off, n uint64) uint64 {
	if n >= CachelineSize {
		return ^uint64(0) << off
	}
	return ((uint64(1) << n) - 1) << off
}

// CacheLineEntry tracks the bytes of one cacheline that have been written
// but not yet flushed. Addr is always cacheline-aligned; at most one entry
// per address exists in the cache store at a time.
type CacheLineEntry struct {
	Addr       uint64
	Data       [CachelineSize]byte
	DirtyBits  uint64 // one bit per byte, set means written since entry creation
	LastWriter StackID
}

// Merge overwrites the bytes of a store into the entry and marks them dirty.
// addr must fall inside the entry's cacheline.
func (e *CacheLineEntry) Merge(addr uint64, data []byte, writer StackID) {
	off := LineOffset(addr)
	copy(e.Data[off:], data)
	e.DirtyBits |= DirtyMask(off, uint64(len(data)))
	e.LastWriter = writer
}

// DirtyCount returns the number of dirty bytes in the entry.
func (e *CacheLineEntry) DirtyCount() int {
	return bits.OnesCount64(e.DirtyBits)
}

// WriteBufferEntry is a cacheline that has been flushed but not yet fenced.
// It owns the CacheLineEntry moved out of the cache store; a given cacheline
// address appears in at most one of {cache store, write buffer}.
type WriteBufferEntry struct {
	Line *CacheLineEntry
	TID  uint64 // thread that issued the flush; fences drain per-thread
}

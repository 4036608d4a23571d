package cache

import (
	"expvar"
	"fmt"
	"log/slog"

	"github.com/INLOpen/skiplist"

	"github.com/INLOpen/pmemtrace/core"
	"github.com/INLOpen/pmemtrace/eviction"
)

// Store tracks, per cacheline, the bytes written since the line was last
// made durable. Entries live here until a flush (or a capacity eviction)
// moves them to the write buffer. Lines are kept in address order so dumps
// and eviction sweeps are deterministic for a given policy.
type Store struct {
	capacity int
	policy   eviction.Policy
	lines    *skiplist.SkipList[uint64, *core.CacheLineEntry]

	logger    *slog.Logger
	evictions *expvar.Int
}

// Options holds configuration for the cache store.
type Options struct {
	Capacity  int
	Policy    eviction.Policy
	Logger    *slog.Logger
	Evictions *expvar.Int
}

func cmpAddr(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// NewStore creates an empty cache store.
func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Policy == nil {
		opts.Policy = eviction.NewRandom(nil, 2)
	}
	return &Store{
		capacity:  opts.Capacity,
		policy:    opts.Policy,
		lines:     skiplist.NewWithComparator[uint64, *core.CacheLineEntry](cmpAddr),
		logger:    opts.Logger.With("component", "CacheStore"),
		evictions: opts.Evictions,
	}
}

// RecordStore merges a store into the entry for its cacheline, creating the
// entry on first write. The returned slice holds entries selected for
// eviction by the capacity sweep; the caller must write each of them back.
//
// A store that straddles a cacheline boundary is unsupported: it is reported
// and recorded against its first cacheline only, truncated at the boundary.
func (s *Store) RecordStore(addr uint64, data []byte, writer core.StackID) []*core.CacheLineEntry {
	if len(data) == 0 {
		return nil
	}
	base := core.AlignDown(addr)
	if core.AlignDown(addr+uint64(len(data))-1) != base {
		s.logger.Warn("store splits cache lines, recording against first line only",
			"addr", fmt.Sprintf("0x%x", addr), "size", len(data))
		data = data[:core.CachelineSize-core.LineOffset(addr)]
	}

	if entry, ok := s.Get(base); ok {
		entry.Merge(addr, data, writer)
		return nil
	}

	entry := &core.CacheLineEntry{Addr: base}
	entry.Merge(addr, data, writer)
	s.lines.Insert(base, entry)

	return s.sweepOverflow()
}

// sweepOverflow applies the eviction policy when the store is over capacity.
func (s *Store) sweepOverflow() []*core.CacheLineEntry {
	if s.lines.Len() <= s.capacity {
		return nil
	}
	total := s.lines.Len()
	var selected []*core.CacheLineEntry
	i := 0
	s.lines.Range(func(_ uint64, e *core.CacheLineEntry) bool {
		if s.policy.Evict(i, total) {
			selected = append(selected, e)
		}
		i++
		return true
	})
	for _, e := range selected {
		s.lines.Delete(e.Addr)
	}
	if s.evictions != nil {
		s.evictions.Add(int64(len(selected)))
	}
	return selected
}

// Get returns the entry for a cacheline-aligned address.
func (s *Store) Get(base uint64) (*core.CacheLineEntry, bool) {
	node, ok := s.lines.Seek(base)
	if !ok || node.Key() != base {
		return nil, false
	}
	return node.Value(), true
}

// Remove drops the entry for a cacheline-aligned address, if present.
func (s *Store) Remove(base uint64) {
	s.lines.Delete(base)
}

// Len returns the number of dirty cachelines being tracked.
func (s *Store) Len() int {
	return s.lines.Len()
}

// Range calls fn for every entry in ascending address order until fn
// returns false.
func (s *Store) Range(fn func(*core.CacheLineEntry) bool) {
	s.lines.Range(func(_ uint64, e *core.CacheLineEntry) bool {
		return fn(e)
	})
}

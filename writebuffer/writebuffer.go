package writebuffer

import (
	"expvar"
	"log/slog"

	"github.com/INLOpen/skiplist"

	"github.com/INLOpen/pmemtrace/core"
	"github.com/INLOpen/pmemtrace/eviction"
)

// Buffer holds cachelines that have been flushed but not yet fenced. Each
// entry is tagged with the thread that issued the flush; a fence drains only
// the calling thread's entries. The buffer models a store buffer, so its
// capacity and eviction sampling are smaller than the cache store's.
type Buffer struct {
	capacity int
	policy   eviction.Policy
	entries  *skiplist.SkipList[uint64, *core.WriteBufferEntry]

	logger    *slog.Logger
	evictions *expvar.Int
}

// Options holds configuration for the write buffer.
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

// New creates an empty write buffer.
func New(opts Options) *Buffer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Policy == nil {
		opts.Policy = eviction.NewRandom(nil, 10)
	}
	return &Buffer{
		capacity:  opts.Capacity,
		policy:    opts.Policy,
		entries:   skiplist.NewWithComparator[uint64, *core.WriteBufferEntry](cmpAddr),
		logger:    opts.Logger.With("component", "WriteBuffer"),
		evictions: opts.Evictions,
	}
}

// Put inserts an entry and returns the entry it displaced, if the same
// cacheline was already flushed and not yet fenced. The displaced entry must
// be persisted by the caller before anything else happens: a line re-flushed
// before its prior flush was fenced must appear durable with the new data,
// not merged with the old.
func (b *Buffer) Put(e *core.WriteBufferEntry) (displaced *core.WriteBufferEntry) {
	// Insert on a duplicate key updates the node in place, so the prior
	// entry has to be fetched before the insert overwrites it.
	if node, ok := b.entries.Seek(e.Line.Addr); ok && node.Key() == e.Line.Addr {
		displaced = node.Value()
	}
	b.entries.Insert(e.Line.Addr, e)
	return displaced
}

// SweepOverflow applies the eviction policy when the buffer is over
// capacity, removing and returning the selected entries. The caller must
// persist each of them.
func (b *Buffer) SweepOverflow() []*core.WriteBufferEntry {
	if b.entries.Len() <= b.capacity {
		return nil
	}
	total := b.entries.Len()
	var selected []*core.WriteBufferEntry
	i := 0
	b.entries.Range(func(_ uint64, e *core.WriteBufferEntry) bool {
		if b.policy.Evict(i, total) {
			selected = append(selected, e)
		}
		i++
		return true
	})
	for _, e := range selected {
		b.entries.Delete(e.Line.Addr)
	}
	if b.evictions != nil {
		b.evictions.Add(int64(len(selected)))
	}
	return selected
}

// TakeThread removes and returns every entry owned by tid, in ascending
// address order. This is the fence scope: other threads' entries stay put.
func (b *Buffer) TakeThread(tid uint64) []*core.WriteBufferEntry {
	var owned []*core.WriteBufferEntry
	b.entries.Range(func(_ uint64, e *core.WriteBufferEntry) bool {
		if e.TID == tid {
			owned = append(owned, e)
		}
		return true
	})
	for _, e := range owned {
		b.entries.Delete(e.Line.Addr)
	}
	return owned
}

// Len returns the number of flushed-but-unfenced cachelines.
func (b *Buffer) Len() int {
	return b.entries.Len()
}

// Range calls fn for every entry in ascending address order until fn
// returns false.
func (b *Buffer) Range(fn func(*core.WriteBufferEntry) bool) {
	b.entries.Range(func(_ uint64, e *core.WriteBufferEntry) bool {
		return fn(e)
	})
}

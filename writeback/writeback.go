package writeback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/pmemtrace/cache"
	"github.com/INLOpen/pmemtrace/core"
	"github.com/INLOpen/pmemtrace/region"
	"github.com/INLOpen/pmemtrace/writebuffer"
)

// Engine moves cachelines along the durability pipeline:
// cache store -> write buffer -> backing file. Only the dirty bytes of a
// line ever reach the file; clean bytes are read-merged from the existing
// file contents so unrelated data is never clobbered.
type Engine struct {
	regions *region.Table
	cache   *cache.Store
	buffer  *writebuffer.Buffer
	logger  *slog.Logger
}

// Options holds the collaborators of the writeback engine.
type Options struct {
	Regions *region.Table
	Cache   *cache.Store
	Buffer  *writebuffer.Buffer
	Logger  *slog.Logger
}

// New creates a writeback engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		regions: opts.Regions,
		cache:   opts.Cache,
		buffer:  opts.Buffer,
		logger:  opts.Logger.With("component", "Writeback"),
	}
}

// Writeback removes a line from the cache store and inserts it into the
// write buffer tagged with the calling thread. If the same cacheline was
// already flushed and not yet fenced, the prior flush is persisted to the
// backing file first and the new entry takes its place.
func (e *Engine) Writeback(line *core.CacheLineEntry, tid uint64) {
	e.cache.Remove(line.Addr)
	if displaced := e.buffer.Put(&core.WriteBufferEntry{Line: line, TID: tid}); displaced != nil {
		e.Persist(displaced)
	}
	for _, evicted := range e.buffer.SweepOverflow() {
		e.Persist(evicted)
	}
}

// DrainThread persists and removes every write-buffer entry owned by tid.
// This is the fence operation's whole effect.
func (e *Engine) DrainThread(tid uint64) {
	for _, entry := range e.buffer.TakeThread(tid) {
		e.Persist(entry)
	}
}

// Persist writes an entry's dirty bytes to its backing file at the line's
// offset within the region. The entry was accepted into the cache only
// because it matched a registered region at store time, so a lookup miss
// here means the tracked state has desynchronized from the region table;
// that is fatal.
func (e *Engine) Persist(entry *core.WriteBufferEntry) {
	r, ok := e.regions.LookupAddr(entry.Line.Addr)
	if !ok {
		err := &core.InvariantError{Op: "writeback", Addr: entry.Line.Addr}
		e.logger.Error("no backing file for tracked cacheline", "addr", fmt.Sprintf("0x%x", entry.Line.Addr))
		e.regions.Range(func(known *region.Region) bool {
			e.logger.Error("registered region", "name", known.Name, "base", fmt.Sprintf("0x%x", known.Base), "size", known.Size)
			return true
		})
		panic(err)
	}

	off := r.Offset(entry.Line.Addr)
	// The region's last line is short when the size is not a multiple of the
	// cacheline; reads and writes clamp to the region end.
	n := uint64(core.CachelineSize)
	if remain := r.Base + r.Size - entry.Line.Addr; remain < n {
		n = remain
	}
	var line [core.CachelineSize]byte
	if _, err := r.File.ReadAt(line[:n], off); err != nil && !errors.Is(err, io.EOF) {
		panic(fmt.Errorf("failed to read cacheline from %s at offset %d: %w", r.Name, off, err))
	}
	for i := 0; i < int(n); i++ {
		if entry.Line.DirtyBits&(uint64(1)<<i) != 0 {
			line[i] = entry.Line.Data[i]
		}
	}
	if _, err := r.File.WriteAt(line[:n], off); err != nil {
		panic(fmt.Errorf("failed to write cacheline to %s at offset %d: %w", r.Name, off, err))
	}
}

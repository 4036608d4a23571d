// Package engine ties the tracked state together: the region table, the
// cacheline store, the per-thread write buffer, the writeback pipeline and
// the crash simulator, behind one mutex. Instrumented programs drive it with
// store/flush/fence events; everything else follows from those.
package engine

import (
	"expvar"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/INLOpen/pmemtrace/cache"
	"github.com/INLOpen/pmemtrace/callstack"
	"github.com/INLOpen/pmemtrace/config"
	"github.com/INLOpen/pmemtrace/core"
	"github.com/INLOpen/pmemtrace/crash"
	"github.com/INLOpen/pmemtrace/eviction"
	"github.com/INLOpen/pmemtrace/region"
	"github.com/INLOpen/pmemtrace/report"
	"github.com/INLOpen/pmemtrace/stats"
	"github.com/INLOpen/pmemtrace/writebuffer"
	"github.com/INLOpen/pmemtrace/writeback"
)

var (
	metricCacheEvictions  = expvar.NewInt("pmemtrace_cache_evictions")
	metricBufferEvictions = expvar.NewInt("pmemtrace_writebuffer_evictions")
	metricVerifications   = expvar.NewInt("pmemtrace_verifications")
	metricVerifyFailures  = expvar.NewInt("pmemtrace_verification_failures")
	metricVerifyWeird     = expvar.NewInt("pmemtrace_verification_unexpected")
)

// Engine is the durability checker. All methods are safe for concurrent use;
// a single mutex serializes them, which also means a crash simulation always
// observes a quiescent state.
type Engine struct {
	mu sync.Mutex

	regions   *region.Table
	transient *region.TransientSet
	cache     *cache.Store
	buffer    *writebuffer.Buffer
	wb        *writeback.Engine
	stacks    callstack.Provider
	stats     *stats.Verification
	sim       *crash.Simulator

	logger     *slog.Logger
	shutdownTo io.Writer
}

// Options holds construction parameters. Only Config is required; the rest
// exist so tests can substitute deterministic collaborators.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	Stacks       callstack.Provider // default: runtime-backed depot
	Runner       crash.Runner       // default: exec the configured verifier
	RandIntn     func(int) int      // default: math/rand
	CachePolicy  eviction.Policy    // default: random per config denominator
	BufferPolicy eviction.Policy

	// ShutdownTo receives the leak dump and statistics on Close.
	ShutdownTo io.Writer
}

// New creates an engine from its configuration.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		c, err := config.Load(nil)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Stacks == nil {
		opts.Stacks = callstack.NewDepot()
	}
	if opts.ShutdownTo == nil {
		opts.ShutdownTo = os.Stderr
	}
	if opts.CachePolicy == nil {
		opts.CachePolicy = eviction.NewRandom(nil, cfg.Engine.CacheEvictDenominator)
	}
	if opts.BufferPolicy == nil {
		opts.BufferPolicy = eviction.NewRandom(nil, cfg.Engine.WriteBufferEvictDenominator)
	}

	verifyStats, err := stats.New(stats.Options{
		Verifications: metricVerifications,
		Failures:      metricVerifyFailures,
		Unexpected:    metricVerifyWeird,
	})
	if err != nil {
		return nil, err
	}

	regions := region.NewTable(logger)
	lineCache := cache.NewStore(cache.Options{
		Capacity:  cfg.Engine.CacheCapacity,
		Policy:    opts.CachePolicy,
		Logger:    logger,
		Evictions: metricCacheEvictions,
	})
	buffer := writebuffer.New(writebuffer.Options{
		Capacity:  cfg.Engine.WriteBufferCapacity,
		Policy:    opts.BufferPolicy,
		Logger:    logger,
		Evictions: metricBufferEvictions,
	})

	e := &Engine{
		regions:   regions,
		transient: region.NewTransientSet(),
		cache:     lineCache,
		buffer:    buffer,
		stacks:    opts.Stacks,
		stats:     verifyStats,
		logger:    logger.With("component", "Engine"),

		shutdownTo: opts.ShutdownTo,
	}
	e.wb = writeback.New(writeback.Options{
		Regions: regions,
		Cache:   lineCache,
		Buffer:  buffer,
		Logger:  logger,
	})
	e.sim = crash.New(crash.Options{
		VerifierPath: cfg.Verifier.Path,
		ArtifactDir:  cfg.Verifier.ArtifactDir,
		Probability:  cfg.Verifier.CrashProbabilityPercent,
		Enabled:      cfg.Verifier.Enabled,
		Regions:      regions,
		Stats:        verifyStats,
		Runner:       opts.Runner,
		Snapshot:     e.snapshot,
		RandIntn:     opts.RandIntn,
		Logger:       logger,
	})
	return e, nil
}

// RegisterRegion maps [base, base+size) to a freshly created backing file.
func (e *Engine) RegisterRegion(name string, base, size uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.regions.Register(name, base, size)
	return err
}

// UnregisterRegionByName removes a mapping; the backing file stays on disk.
func (e *Engine) UnregisterRegionByName(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regions.UnregisterByName(name)
}

// UnregisterRegionByAddr removes the mapping containing addr.
func (e *Engine) UnregisterRegionByAddr(addr uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regions.UnregisterByAddr(addr)
}

// MarkTransient excludes [base, base+size) from persistence tracking. Marks
// that cannot overlap any registered region are dropped: they could never
// match a tracked store, and recording them would only grow the set.
func (e *Engine) MarkTransient(base, size uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.regions.Len() > 0 && !e.overlapsAnyRegion(base, size) {
		e.logger.Debug("transient mark outside all regions, ignoring",
			"base", base, "size", size)
		return
	}
	e.transient.Add(base, size)
}

func (e *Engine) overlapsAnyRegion(base, size uint64) bool {
	overlaps := false
	e.regions.Range(func(r *region.Region) bool {
		if base < r.Base+r.Size && r.Base < base+size {
			overlaps = true
			return false
		}
		return true
	})
	return overlaps
}

// Store records a write of data at addr by thread tid. Writes outside every
// registered region, or to transient addresses, are invisible to the
// consistency model and ignored.
func (e *Engine) Store(tid, addr uint64, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(data) == 0 {
		return
	}
	if e.transient.Contains(addr) {
		return
	}
	if _, ok := e.regions.LookupAddr(addr); !ok {
		return
	}

	writer := e.stacks.Capture(1)
	for _, evicted := range e.cache.RecordStore(addr, data, writer) {
		e.wb.Writeback(evicted, tid)
	}
	e.sim.Maybe()
}

// Flush moves the cacheline containing addr from the cache store to the
// write buffer. Flushing a line with no pending writes is a no-op, so
// repeated flushes of the same line are harmless.
func (e *Engine) Flush(tid, addr uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked(tid, addr)
	e.sim.Maybe()
}

func (e *Engine) flushLocked(tid, addr uint64) {
	base := core.AlignDown(addr)
	if entry, ok := e.cache.Get(base); ok {
		e.wb.Writeback(entry, tid)
	}
}

// Fence persists every write-buffer entry owned by tid. Crashes may strike
// both before the fence takes effect and after, so callers see the full
// range of states a real power loss could expose.
func (e *Engine) Fence(tid uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sim.Maybe()
	e.wb.DrainThread(tid)
	e.sim.Maybe()
}

// FlushFence flushes the cacheline containing addr and immediately fences
// the calling thread. The two halves are atomic: no crash can land between
// the flush and the fence.
func (e *Engine) FlushFence(tid, addr uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked(tid, addr)
	e.wb.DrainThread(tid)
	e.sim.Maybe()
}

// EnableCrashSim turns probabilistic crash simulation on.
func (e *Engine) EnableCrashSim() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sim.Enable()
}

// DisableCrashSim turns probabilistic crash simulation off.
func (e *Engine) DisableCrashSim() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sim.Disable()
}

// ForceCrash runs one crash-verify cycle immediately, regardless of the
// probabilistic trigger being enabled.
func (e *Engine) ForceCrash() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sim.Simulate()
}

// Stats exposes the verification statistics.
func (e *Engine) Stats() *stats.Verification { return e.stats }

// DirtyLines returns the number of written, not-yet-flushed cachelines.
func (e *Engine) DirtyLines() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Len()
}

// UnfencedLines returns the number of flushed, not-yet-fenced cachelines.
func (e *Engine) UnfencedLines() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer.Len()
}

// snapshot writes the leak dump for the current state. Callers already hold
// the engine mutex; the crash simulator invokes this mid-operation.
func (e *Engine) snapshot(w io.Writer) error {
	var dirty, unfenced []report.Entry
	e.cache.Range(func(line *core.CacheLineEntry) bool {
		dirty = append(dirty, e.reportEntry(line))
		return true
	})
	e.buffer.Range(func(entry *core.WriteBufferEntry) bool {
		unfenced = append(unfenced, e.reportEntry(entry.Line))
		return true
	})
	return report.WriteDump(w, dirty, unfenced, e.stacks)
}

func (e *Engine) reportEntry(line *core.CacheLineEntry) report.Entry {
	entry := report.Entry{Addr: line.Addr, Stack: line.LastWriter}
	if r, ok := e.regions.LookupAddr(line.Addr); ok {
		entry.File = r.Name
	}
	return entry
}

// Close writes the shutdown report (leaked cachelines plus verification
// statistics) and closes every backing file. Backing files are kept on disk;
// their contents are the durable image at shutdown.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(e.shutdownTo); err != nil {
		e.logger.Error("failed to write shutdown dump", "error", err)
	}
	if _, err := io.WriteString(e.shutdownTo, e.stats.Summary()); err != nil {
		e.logger.Error("failed to write verification summary", "error", err)
	}
	return e.regions.CloseAll()
}

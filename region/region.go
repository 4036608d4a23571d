package region

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/INLOpen/skiplist"

	"github.com/INLOpen/pmemtrace/core"
	"github.com/INLOpen/pmemtrace/sys"
)

// Region is a registered persistent-memory mapping backed by a file. The
// file holds the durable image of the range: only fenced (or evicted)
// cachelines are ever reflected in it.
type Region struct {
	Name string
	Base uint64
	Size uint64
	File sys.FileHandle
}

// Contains reports whether addr falls inside the region.
func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.Base+r.Size
}

// Offset returns the backing-file offset of addr.
func (r *Region) Offset(addr uint64) int64 {
	return int64(addr - r.Base)
}

func cmpBase(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Table maps registered address ranges to their backing files. Regions are
// non-overlapping, so an address resolves to at most one region. bases
// mirrors the skiplist keys in sorted order; floor lookups binary-search it.
type Table struct {
	byBase *skiplist.SkipList[uint64, *Region]
	bases  []uint64
	byName map[string]*Region
	logger *slog.Logger
}

// NewTable creates an empty region table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		byBase: skiplist.NewWithComparator[uint64, *Region](cmpBase),
		byName: make(map[string]*Region),
		logger: logger.With("component", "RegionTable"),
	}
}

// Register creates (or truncates) a backing file of size bytes and records
// the mapping. The base address must be cacheline-aligned and the range must
// not overlap any registered region.
func (t *Table) Register(name string, base, size uint64) (*Region, error) {
	if name == "" {
		return nil, core.ErrEmptyRegionName
	}
	if !core.IsAligned(base) {
		return nil, fmt.Errorf("register %q at 0x%x: %w", name, base, core.ErrUnalignedAddress)
	}
	if _, ok := t.byName[name]; ok {
		return nil, fmt.Errorf("register %q: %w", name, core.ErrDuplicateRegionName)
	}
	if r, ok := t.LookupAddr(base); ok {
		return nil, fmt.Errorf("register %q at 0x%x: range starts inside %q: %w", name, base, r.Name, core.ErrRegionOverlap)
	}
	// The range must also not swallow a region that starts above base.
	if i, _ := slices.BinarySearch(t.bases, base); i < len(t.bases) && t.bases[i] < base+size {
		return nil, fmt.Errorf("register %q at 0x%x: range covers region at 0x%x: %w", name, base, t.bases[i], core.ErrRegionOverlap)
	}

	file, err := sys.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing file %s: %w", name, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to size backing file %s to %d bytes: %w", name, size, err)
	}

	r := &Region{Name: name, Base: base, Size: size, File: file}
	t.byBase.Insert(base, r)
	i, _ := slices.BinarySearch(t.bases, base)
	t.bases = slices.Insert(t.bases, i, base)
	t.byName[name] = r
	t.logger.Debug("registered persistent region", "name", name, "base", fmt.Sprintf("0x%x", base), "size", size)
	return r, nil
}

// LookupAddr resolves a byte address to the region containing it, if any.
// The candidate is the region with the greatest base <= addr.
func (t *Table) LookupAddr(addr uint64) (*Region, bool) {
	i, found := slices.BinarySearch(t.bases, addr)
	if !found {
		if i == 0 {
			return nil, false
		}
		i--
	}
	r, ok := t.regionAt(t.bases[i])
	if ok && r.Contains(addr) {
		return r, true
	}
	return nil, false
}

// regionAt fetches the region registered at exactly base.
func (t *Table) regionAt(base uint64) (*Region, bool) {
	node, ok := t.byBase.Seek(base)
	if !ok || node.Key() != base {
		return nil, false
	}
	return node.Value(), true
}

// LookupName resolves a region by its backing-file name.
func (t *Table) LookupName(name string) (*Region, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// UnregisterByName removes the mapping and closes the backing file. The file
// itself is left on disk. Cache or write-buffer entries still in flight for
// the region become orphaned; they are reported at shutdown.
func (t *Table) UnregisterByName(name string) error {
	r, ok := t.byName[name]
	if !ok {
		return fmt.Errorf("unregister %q: %w", name, core.ErrRegionNotFound)
	}
	return t.remove(r)
}

// UnregisterByAddr removes the region containing addr.
func (t *Table) UnregisterByAddr(addr uint64) error {
	r, ok := t.LookupAddr(addr)
	if !ok {
		return fmt.Errorf("unregister 0x%x: %w", addr, core.ErrRegionNotFound)
	}
	return t.remove(r)
}

func (t *Table) remove(r *Region) error {
	t.byBase.Delete(r.Base)
	if i, found := slices.BinarySearch(t.bases, r.Base); found {
		t.bases = slices.Delete(t.bases, i, i+1)
	}
	delete(t.byName, r.Name)
	t.logger.Debug("unregistered persistent region", "name", r.Name, "base", fmt.Sprintf("0x%x", r.Base))
	if err := r.File.Close(); err != nil {
		return fmt.Errorf("failed to close backing file %s: %w", r.Name, err)
	}
	return nil
}

// Len returns the number of registered regions.
func (t *Table) Len() int {
	return t.byBase.Len()
}

// Range calls fn for every region in ascending base-address order until fn
// returns false.
func (t *Table) Range(fn func(*Region) bool) {
	t.byBase.Range(func(_ uint64, r *Region) bool {
		return fn(r)
	})
}

// Names returns the backing-file names in ascending base-address order. This
// is the argument order handed to the verifier.
func (t *Table) Names() []string {
	names := make([]string, 0, t.Len())
	t.Range(func(r *Region) bool {
		names = append(names, r.Name)
		return true
	})
	return names
}

// CloseAll closes every backing file. Files are not deleted.
func (t *Table) CloseAll() error {
	var firstErr error
	t.Range(func(r *Region) bool {
		if err := r.File.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close backing file %s: %w", r.Name, err)
		}
		return true
	})
	return firstErr
}

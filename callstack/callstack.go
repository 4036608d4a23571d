// Package callstack captures and deduplicates the call stacks attached to
// tracked stores. The engine treats a stack as an opaque, comparable
// identity (core.StackID); only the dump writer ever needs the frames back.
package callstack

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"

	"github.com/INLOpen/pmemtrace/core"
)

// maxFrames bounds captured stack depth. Eight frames is enough to tell two
// store sites apart and keeps a unique stack at 64 bytes.
const maxFrames = 8

// Provider supplies stack identities and their human-readable form. The
// default is the runtime-backed Depot; tests substitute synthetic providers.
type Provider interface {
	// Capture records the current call stack, skipping skip frames above the
	// caller, and returns its identity. Returns 0 if no stack is available.
	Capture(skip int) core.StackID
	// Format renders a captured stack for reports.
	Format(id core.StackID) string
}

// Depot stores each unique stack once, keyed by an FNV-1a hash of its
// program counters.
type Depot struct {
	stacks sync.Map // core.StackID -> []uintptr
}

var _ Provider = (*Depot)(nil)

// NewDepot creates an empty stack depot.
func NewDepot() *Depot {
	return &Depot{}
}

// Capture implements Provider.
func (d *Depot) Capture(skip int) core.StackID {
	var pcs [maxFrames]uintptr
	// +2 skips runtime.Callers and Capture itself.
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return 0
	}

	id := hashFrames(pcs[:n])
	if _, ok := d.stacks.Load(id); !ok {
		d.stacks.Store(id, append([]uintptr(nil), pcs[:n]...))
	}
	return id
}

// Format implements Provider. The output matches the dump format: the
// innermost frame is prefixed "at", callers "by".
func (d *Depot) Format(id core.StackID) string {
	val, ok := d.stacks.Load(id)
	if !ok {
		return "   at <unknown>\n"
	}
	pcs := val.([]uintptr)

	var b strings.Builder
	frames := runtime.CallersFrames(pcs)
	n := 0
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		prefix := "by"
		if n == 0 {
			prefix = "at"
		}
		fmt.Fprintf(&b, "   %s %s (%s:%d)\n", prefix, frame.Function, frame.File, frame.Line)
		n++
		if !more {
			break
		}
	}
	if b.Len() == 0 {
		return "   at <unknown>\n"
	}
	return b.String()
}

func hashFrames(pcs []uintptr) core.StackID {
	h := fnv.New64a()
	var buf [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(buf[:], uint64(pc))
		h.Write(buf[:])
	}
	return core.StackID(h.Sum64())
}

// Package report renders the leaked-entry dump written before each
// verification attempt and printed at shutdown.
package report

import (
	"fmt"
	"io"

	"github.com/INLOpen/pmemtrace/core"
)

const rule = "~~~~~~~~~~~~~~~"

// Entry is one leaked cacheline: its address, the backing file it belongs
// to, and the stack of the last write to it. File is empty for lines whose
// region was unregistered while they were still in flight.
type Entry struct {
	Addr  uint64
	File  string
	Stack core.StackID
}

// Formatter renders a stack identity; callstack.Provider satisfies it.
type Formatter interface {
	Format(id core.StackID) string
}

// WriteDump writes the two leak categories in the dump format the verifier
// tooling expects. Entries sharing a call stack are reported once, under the
// first address seen for that stack; dirty counts the not-yet-flushed lines
// and unfenced the flushed-but-not-fenced ones.
func WriteDump(w io.Writer, dirty, unfenced []Entry, f Formatter) error {
	if err := writeGroup(w, "Number of cache-lines not made persistent", dirty, f); err != nil {
		return err
	}
	return writeGroup(w, "Number of cache-lines flushed but not fenced", unfenced, f)
}

func writeGroup(w io.Writer, header string, entries []Entry, f Formatter) error {
	if _, err := fmt.Fprintf(w, "%s: %d\n", header, len(entries)); err != nil {
		return err
	}
	seen := make(map[core.StackID]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Stack]; dup {
			continue
		}
		seen[e.Stack] = struct{}{}

		name := e.File
		if name == "" {
			name = "<unregistered>"
		}
		if _, err := fmt.Fprintf(w, "['%s']\n%s\n", name, rule); err != nil {
			return err
		}
		if _, err := io.WriteString(w, f.Format(e.Stack)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\n", rule); err != nil {
			return err
		}
	}
	return nil
}

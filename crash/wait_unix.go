//go:build unix

package crash

import (
	"os"
	"syscall"
)

func signaled(ps *os.ProcessState) bool {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}

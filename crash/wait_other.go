//go:build !unix

package crash

import "os"

// Without wait-status introspection, a non-exited process cannot be told
// apart from any other abnormal termination; callers classify it as weird.
func signaled(_ *os.ProcessState) bool {
	return false
}

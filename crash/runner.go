package crash

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// VerificationFailureCode is the reserved exit code a verifier uses to
// signal "I inspected the files and they are not a valid recoverable
// state". Any other nonzero exit is classified the same way, but this one
// is the documented contract.
const VerificationFailureCode = 0xBD

// Outcome classifies how a verification attempt ended.
type Outcome int

const (
	// OutcomePass: verifier exited 0, the persisted state is recoverable.
	OutcomePass Outcome = iota
	// OutcomeFailure: verifier exited nonzero, a deliberate verdict that the
	// persisted state is inconsistent.
	OutcomeFailure
	// OutcomeCoreDump: verifier was terminated by a signal.
	OutcomeCoreDump
	// OutcomeWeird: verifier terminated some other way, or never launched.
	OutcomeWeird
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "pass"
	case OutcomeFailure:
		return "failure"
	case OutcomeCoreDump:
		return "coredump"
	default:
		return "weird"
	}
}

// Result is the classified end state of one verifier invocation.
type Result struct {
	Outcome  Outcome
	ExitCode int // valid when Outcome is OutcomePass or OutcomeFailure
}

// RunRequest describes one verifier invocation. The verifier receives
// argv = [path, file count, file names...] and its streams are redirected
// to the given artifact paths.
type RunRequest struct {
	VerifierPath string
	Files        []string
	StdoutPath   string
	StderrPath   string
}

// Runner invokes the external verifier. It is an interface so the engine's
// crash protocol can be exercised in tests with an in-process fake.
type Runner interface {
	Run(req RunRequest) Result
}

// ExecRunner runs the verifier as a child process and blocks until it
// exits. There is no timeout: a verifier that loops forever stalls the run.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

// Run implements Runner.
func (ExecRunner) Run(req RunRequest) Result {
	stdout, err := os.Create(req.StdoutPath)
	if err != nil {
		return Result{Outcome: OutcomeWeird}
	}
	defer stdout.Close()
	stderr, err := os.Create(req.StderrPath)
	if err != nil {
		return Result{Outcome: OutcomeWeird}
	}
	defer stderr.Close()

	args := make([]string, 0, len(req.Files)+1)
	args = append(args, strconv.Itoa(len(req.Files)))
	args = append(args, req.Files...)

	cmd := exec.Command(req.VerifierPath, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	if runErr == nil {
		return Result{Outcome: OutcomePass, ExitCode: 0}
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		// The process never ran (bad path, permissions, fork failure).
		return Result{Outcome: OutcomeWeird}
	}

	ps := exitErr.ProcessState
	if ps.Exited() {
		return Result{Outcome: OutcomeFailure, ExitCode: ps.ExitCode()}
	}
	if signaled(ps) {
		return Result{Outcome: OutcomeCoreDump}
	}
	return Result{Outcome: OutcomeWeird}
}

// DumpPath returns the leak-dump artifact path for a verification attempt.
func DumpPath(dir string, attempt uint64) string {
	return artifactPath(dir, attempt, "dump")
}

// StdoutPath returns the captured-stdout artifact path for an attempt.
func StdoutPath(dir string, attempt uint64) string {
	return artifactPath(dir, attempt, "stdout")
}

// StderrPath returns the captured-stderr artifact path for an attempt.
func StderrPath(dir string, attempt uint64) string {
	return artifactPath(dir, attempt, "stderr")
}

func artifactPath(dir string, attempt uint64, kind string) string {
	return filepath.Join(dir, fmt.Sprintf("bad-verification-%d.%s", attempt, kind))
}

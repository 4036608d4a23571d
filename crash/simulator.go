// Package crash simulates power loss. A simulated crash snapshots the
// engine's leaked state into a dump artifact, hands the registered backing
// files to an external verifier process, and classifies what the verifier
// decided. The in-memory cache and write-buffer contents are exactly the
// bytes a real crash would lose, so the verifier only ever sees what the
// files already contain.
package crash

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/INLOpen/pmemtrace/region"
	"github.com/INLOpen/pmemtrace/stats"
	"github.com/INLOpen/pmemtrace/sys"
)

// SnapshotFunc writes the leak dump for the current engine state.
type SnapshotFunc func(w io.Writer) error

// Simulator owns the crash protocol and its trigger policy.
type Simulator struct {
	verifier    string
	artifactDir string
	probability int // percent chance per crash point
	enabled     bool

	regions  *region.Table
	stats    *stats.Verification
	runner   Runner
	snapshot SnapshotFunc
	randIntn func(int) int

	logger *slog.Logger
}

// Options holds the collaborators and policy of the simulator.
type Options struct {
	VerifierPath string
	ArtifactDir  string
	Probability  int  // percent, 0-100
	Enabled      bool // initial state; toggled through Enable/Disable

	Regions  *region.Table
	Stats    *stats.Verification
	Runner   Runner       // defaults to ExecRunner
	Snapshot SnapshotFunc // writes the leak dump
	RandIntn func(int) int

	Logger *slog.Logger
}

// New creates a crash simulator.
func New(opts Options) *Simulator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.RandIntn == nil {
		opts.RandIntn = rand.Intn
	}
	if opts.ArtifactDir == "" {
		opts.ArtifactDir = "."
	}
	return &Simulator{
		verifier:    opts.VerifierPath,
		artifactDir: opts.ArtifactDir,
		probability: opts.Probability,
		enabled:     opts.Enabled,
		regions:     opts.Regions,
		stats:       opts.Stats,
		runner:      opts.Runner,
		snapshot:    opts.Snapshot,
		randIntn:    opts.RandIntn,
		logger:      opts.Logger.With("component", "CrashSimulator"),
	}
}

// Enable turns probabilistic crash simulation on.
func (s *Simulator) Enable() { s.enabled = true }

// Disable turns probabilistic crash simulation off. Forced crashes still run.
func (s *Simulator) Disable() { s.enabled = false }

// Enabled reports whether probabilistic simulation is on.
func (s *Simulator) Enabled() bool { return s.enabled }

// Maybe triggers a simulated crash with the configured probability. It does
// nothing unless simulation is enabled, a verifier is configured, and at
// least one region is registered.
func (s *Simulator) Maybe() {
	if !s.enabled || s.verifier == "" || s.regions.Len() == 0 {
		return
	}
	if s.randIntn(100) < s.probability {
		s.Simulate()
	}
}

// Simulate forces one crash-verify cycle and blocks until the verifier
// exits. Preconditions that Maybe checks silently are diagnostics here,
// matching a user-forced crash with nothing to verify.
func (s *Simulator) Simulate() {
	if s.verifier == "" {
		s.logger.Error("attempt to force a crash without a verifier configured")
		return
	}
	if s.regions.Len() == 0 {
		s.logger.Error("attempt to force a crash without a registered persistent region")
		return
	}

	attempt := s.stats.Count() + 1
	dumpPath := DumpPath(s.artifactDir, attempt)
	stdoutPath := StdoutPath(s.artifactDir, attempt)
	stderrPath := StderrPath(s.artifactDir, attempt)

	if err := s.writeDump(dumpPath); err != nil {
		s.logger.Error("failed to write leak dump", "path", dumpPath, "error", err)
	}

	start := time.Now()
	res := s.runner.Run(RunRequest{
		VerifierPath: s.verifier,
		Files:        s.regions.Names(),
		StdoutPath:   stdoutPath,
		StderrPath:   stderrPath,
	})
	elapsed := time.Since(start)
	s.stats.Observe(elapsed)

	switch res.Outcome {
	case OutcomePass:
		// Recoverable state: the attempt leaves no trace behind.
		sys.Remove(dumpPath)
		sys.Remove(stdoutPath)
		sys.Remove(stderrPath)
	case OutcomeFailure:
		s.stats.RecordFailure()
		s.preserveFiles(attempt, "bad")
		s.logger.Info("verifier reported an inconsistent state",
			"attempt", attempt, "exit_code", res.ExitCode, "duration", elapsed)
	case OutcomeCoreDump:
		s.stats.RecordFailure()
		s.preserveFiles(attempt, "bad.coredump")
		s.logger.Warn("verifier was killed by a signal", "attempt", attempt, "duration", elapsed)
	default:
		s.stats.RecordFailure()
		s.stats.RecordUnexpected()
		s.preserveFiles(attempt, "bad.weird")
		s.logger.Error("verifier terminated in a very unusual way", "attempt", attempt, "duration", elapsed)
	}
}

func (s *Simulator) writeDump(path string) error {
	f, err := sys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dump file %s: %w", path, err)
	}
	if err := s.snapshot(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to snapshot leaked state: %w", err)
	}
	return f.Close()
}

// preserveFiles copies every registered backing file next to itself with a
// per-attempt suffix so the failing image can be inspected later.
func (s *Simulator) preserveFiles(attempt uint64, suffix string) {
	s.regions.Range(func(r *region.Region) bool {
		copyName := fmt.Sprintf("%s.%d.%s", r.Name, attempt, suffix)
		if err := sys.CopyFile(r.Name, copyName); err != nil {
			s.logger.Error("failed to preserve backing file", "src", r.Name, "dst", copyName, "error", err)
		}
		return true
	})
}

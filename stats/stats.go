// Package stats aggregates verification outcomes and latencies.
package stats

import (
	"expvar"
	"fmt"
	"math"
	"time"

	tdigest "github.com/caio/go-tdigest/v4"
)

// Verification keeps running statistics over crash-simulation attempts:
// counts, failure counts, min/max latency, mean and variance by Welford's
// online algorithm, and a t-digest for latency quantiles.
type Verification struct {
	count      uint64
	failures   uint64
	unexpected uint64

	min  time.Duration
	max  time.Duration
	mean float64 // seconds
	m2   float64 // sum of squared deviations, seconds^2

	td *tdigest.TDigest

	// Metrics
	metricVerifications *expvar.Int
	metricFailures      *expvar.Int
	metricUnexpected    *expvar.Int
}

// Options holds optional expvar counters mirroring the in-struct counts.
type Options struct {
	Verifications *expvar.Int
	Failures      *expvar.Int
	Unexpected    *expvar.Int
}

// New creates an empty statistics accumulator.
func New(opts Options) (*Verification, error) {
	td, err := tdigest.New()
	if err != nil {
		return nil, fmt.Errorf("tdigest.New failed: %w", err)
	}
	return &Verification{
		td:                  td,
		metricVerifications: opts.Verifications,
		metricFailures:      opts.Failures,
		metricUnexpected:    opts.Unexpected,
	}, nil
}

// Observe records the wall-clock duration of one verification attempt.
func (s *Verification) Observe(d time.Duration) {
	s.count++
	sec := d.Seconds()

	delta := sec - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (sec - s.mean)

	if s.min == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	// AddWeighted only rejects non-finite values; durations are finite.
	_ = s.td.AddWeighted(sec, 1)
	if s.metricVerifications != nil {
		s.metricVerifications.Add(1)
	}
}

// RecordFailure counts a verification that did not pass.
func (s *Verification) RecordFailure() {
	s.failures++
	if s.metricFailures != nil {
		s.metricFailures.Add(1)
	}
}

// RecordUnexpected counts a verifier that terminated in a way that is
// neither a pass nor a deliberate verification failure.
func (s *Verification) RecordUnexpected() {
	s.unexpected++
	if s.metricUnexpected != nil {
		s.metricUnexpected.Add(1)
	}
}

// Count returns the number of verification attempts observed.
func (s *Verification) Count() uint64 { return s.count }

// Failures returns the number of failed attempts.
func (s *Verification) Failures() uint64 { return s.failures }

// Unexpected returns the number of abnormal verifier terminations.
func (s *Verification) Unexpected() uint64 { return s.unexpected }

// Min returns the shortest observed attempt.
func (s *Verification) Min() time.Duration { return s.min }

// Max returns the longest observed attempt.
func (s *Verification) Max() time.Duration { return s.max }

// Mean returns the mean attempt latency in seconds.
func (s *Verification) Mean() float64 { return s.mean }

// Variance returns the population variance of attempt latency in seconds^2.
func (s *Verification) Variance() float64 {
	if s.count == 0 {
		return 0
	}
	return s.m2 / float64(s.count)
}

// StdDev returns the standard deviation of attempt latency in seconds.
func (s *Verification) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// Quantile returns the q-th latency quantile in seconds, q in [0,1].
func (s *Verification) Quantile(q float64) float64 {
	if s.td.Count() == 0 {
		return 0
	}
	return s.td.Quantile(q)
}

// Summary renders the shutdown statistics block.
func (s *Verification) Summary() string {
	out := fmt.Sprintf("%d out of %d verifications failed...\n", s.failures, s.count)
	if s.count > 0 {
		out += fmt.Sprintf("Verification Function Stats (seconds):\n\tMinimum:%e\n\tMaximum:%e\n\tMean:%e\n\tVariance:%e\n\tP99:%e\n",
			s.min.Seconds(), s.max.Seconds(), s.Mean(), s.Variance(), s.Quantile(0.99))
	}
	return out
}

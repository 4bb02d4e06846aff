package outlinesync

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/randalmurphal/outlinesync/pkg/outlinesync/observability"
)

// Fixed run constants.
const (
	// DefaultJobTimeout is the wall-clock budget of one job.
	DefaultJobTimeout = 30 * time.Minute

	// DefaultInterJobDelay is the pause between consecutive jobs.
	DefaultInterJobDelay = 2 * time.Second
)

// DefaultCountPattern matches `COUNT name=value` lines in job output.
var DefaultCountPattern = regexp.MustCompile(`(?m)^COUNT\s+([A-Za-z_][A-Za-z0-9_]*)=(\d+)\s*$`)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJobTimeout sets the per-job wall-clock timeout.
// Default: 30 minutes
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.jobTimeout = d
		}
	}
}

// WithInterJobDelay sets the pause inserted before every job after the
// first one executed. Zero disables it.
// Default: 2 seconds
func WithInterJobDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.spans = s
		}
	}
}

// WithCountPattern sets the expression used to extract counts from job
// output. It must have two groups: the name and the decimal value.
func WithCountPattern(re *regexp.Regexp) Option {
	return func(o *Orchestrator) {
		if re != nil && re.NumSubexp() >= 2 {
			o.countPattern = re
		}
	}
}

// WithClock replaces the time source and the delay function, for tests.
// sleep must return ctx.Err() if ctx is done before d elapses.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

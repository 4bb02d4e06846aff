package outlinesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/outlinesync/pkg/outlinesync/checkpoint"
	oserrors "github.com/randalmurphal/outlinesync/pkg/outlinesync/errors"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/observability"
)

// outputTailBytes bounds the job output quoted in failure logs.
const outputTailBytes = 2048

// Orchestrator runs jobs sequentially with checkpointing.
type Orchestrator struct {
	store        checkpoint.Store
	runner       Runner
	jobTimeout   time.Duration
	delay        time.Duration
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	spans        observability.SpanManager
	countPattern *regexp.Regexp
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator that records progress in store and executes
// jobs with runner.
func New(store checkpoint.Store, runner Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		runner:       runner,
		jobTimeout:   DefaultJobTimeout,
		delay:        DefaultInterJobDelay,
		logger:       slog.Default(),
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		countPattern: DefaultCountPattern,
		now:          time.Now,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes jobs in declaration order.
//
// With resume, jobs already completed according to the stored checkpoint are
// skipped; without it the run starts from an empty checkpoint. A job failure
// never stops the run. Run returns ErrInterrupted if ctx is cancelled, after
// the job in flight finishes and the checkpoint is written. The summary is
// returned whenever any job was considered.
func (o *Orchestrator) Run(ctx context.Context, jobs []Job, resume bool) (summary *Summary, runErr error) {
	if err := validateJobs(jobs); err != nil {
		return nil, err
	}

	cp, err := o.loadCheckpoint(ctx, resume)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	summary = newSummary(runID, o.now(), len(jobs))
	logger := o.logger.With(slog.String("run_id", runID))

	pending := 0
	for _, j := range jobs {
		if !cp.IsCompleted(j.ID) {
			pending++
		}
	}
	observability.LogRunStart(o.logger, runID, len(jobs), pending, resume)

	ctx, span := o.spans.StartRunSpan(ctx, runID)
	defer func() {
		summary.FinishedAt = o.now()
		o.spans.EndSpanWithError(span, runErr)
		logger.Info("run finished",
			slog.Int("succeeded", summary.Succeeded),
			slog.Int("failed", summary.Failed),
			slog.Int("timed_out", summary.TimedOut),
			slog.Int("skipped", summary.Skipped),
			slog.Bool("interrupted", summary.Interrupted),
		)
	}()

	executed := 0
	for i, job := range jobs {
		if cp.IsCompleted(job.ID) {
			summary.Skipped++
			logger.Debug("job already completed, skipping", slog.String("job_id", job.ID))
			continue
		}

		if executed > 0 {
			if err := o.sleep(ctx, o.delay); err != nil {
				return summary, o.interrupt(ctx, logger, cp, summary)
			}
		}
		if ctx.Err() != nil {
			return summary, o.interrupt(ctx, logger, cp, summary)
		}

		report := o.runJob(ctx, runID, job, i+1, len(jobs))
		executed++
		summary.add(report)

		switch report.Status {
		case StatusSuccess:
			cp.MarkCompleted(job.ID)
		default:
			cp.MarkFailed(job.ID)
		}
		if err := o.save(ctx, logger, cp); err != nil {
			return summary, &CheckpointError{Op: "save", JobID: job.ID, Err: err}
		}
		o.spans.AddSpanEvent(ctx, "checkpoint.saved")
	}

	// A cancel during the last executed job, or with only completed jobs
	// left, still ends the run as interrupted.
	if ctx.Err() != nil {
		return summary, o.interrupt(ctx, logger, cp, summary)
	}
	return summary, nil
}

// runJob executes one job under its own deadline. The job is detached from
// ctx's cancellation so an interrupt lets it finish.
func (o *Orchestrator) runJob(ctx context.Context, runID string, job Job, position, total int) JobReport {
	jobLogger := observability.EnrichLogger(o.logger, runID, job.ID)
	observability.LogJobStart(jobLogger, position, total)

	spanCtx, span := o.spans.StartJobSpan(ctx, job.ID)
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(spanCtx), o.jobTimeout)
	defer cancel()

	report := JobReport{ID: job.ID, Status: StatusRunning, StartedAt: o.now()}
	outcome := o.runner.Run(jobCtx, job)
	report.FinishedAt = o.now()
	report.ElapsedMs = report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	report.ExitCode = outcome.ExitCode
	report.Counts = parseCounts(o.countPattern, outcome.Output)

	var jobErr error
	switch {
	case outcome.TimedOut || oserrors.IsTimeout(jobCtx.Err()):
		report.Status = StatusTimeout
		jobErr = &oserrors.TimeoutError{Operation: "job " + job.ID, Duration: o.jobTimeout}
	case outcome.Err != nil:
		report.Status = StatusFailed
		jobErr = outcome.Err
	case outcome.ExitCode != 0:
		report.Status = StatusFailed
		jobErr = &ExitError{Code: outcome.ExitCode}
	default:
		report.Status = StatusSuccess
	}

	o.metrics.RecordJob(ctx, string(report.Status), report.FinishedAt.Sub(report.StartedAt))
	o.spans.EndSpanWithError(span, jobErr)

	if jobErr != nil {
		report.Error = jobErr.Error()
		observability.LogJobError(jobLogger, string(report.Status), jobErr, tail(outcome.Output, outputTailBytes))
	} else {
		observability.LogJobComplete(jobLogger, float64(report.ElapsedMs))
	}
	return report
}

func (o *Orchestrator) loadCheckpoint(ctx context.Context, resume bool) (*checkpoint.Checkpoint, error) {
	if !resume {
		return checkpoint.New(), nil
	}
	cp, err := o.store.Load(ctx)
	if errors.Is(err, checkpoint.ErrNotFound) {
		o.logger.Info("no checkpoint found, starting fresh")
		return checkpoint.New(), nil
	}
	if err != nil {
		observability.LogCheckpointError(o.logger, "load", err)
		return nil, &CheckpointError{Op: "load", Err: err}
	}
	return cp, nil
}

// save writes cp even if ctx is already cancelled.
func (o *Orchestrator) save(ctx context.Context, logger *slog.Logger, cp *checkpoint.Checkpoint) error {
	err := o.store.Save(context.WithoutCancel(ctx), cp)
	o.metrics.RecordCheckpoint(ctx, cp.Len(), err)
	if err != nil {
		observability.LogCheckpointError(logger, "save", err)
		return err
	}
	observability.LogCheckpoint(logger, len(cp.Completed), len(cp.Failed))
	return nil
}

// interrupt flushes the checkpoint and marks the summary interrupted. The
// returned error wraps both ErrInterrupted and ctx's error.
func (o *Orchestrator) interrupt(ctx context.Context, logger *slog.Logger, cp *checkpoint.Checkpoint, summary *Summary) error {
	summary.Interrupted = true
	logger.Warn("run interrupted, flushing checkpoint")
	interrupted := fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	if err := o.save(ctx, logger, cp); err != nil {
		return errors.Join(interrupted, &CheckpointError{Op: "save", Err: err})
	}
	return interrupted
}

func validateJobs(jobs []Job) error {
	seen := make(map[string]bool, len(jobs))
	for i, j := range jobs {
		if j.ID == "" {
			return fmt.Errorf("job %d: %w", i, ErrEmptyJobID)
		}
		if seen[j.ID] {
			return fmt.Errorf("job %s: %w", j.ID, ErrDuplicateJob)
		}
		seen[j.ID] = true
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

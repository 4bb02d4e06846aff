// Package observability provides structured logging helpers, OpenTelemetry
// metrics and tracing for outline ingestion runs.
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import "log/slog"

// EnrichLogger returns a logger carrying run_id and job_id fields.
func EnrichLogger(logger *slog.Logger, runID, jobID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("job_id", jobID),
	)
}

// LogRunStart logs the start of an orchestrator run.
func LogRunStart(logger *slog.Logger, runID string, total, pending int, resume bool) {
	if logger == nil {
		return
	}
	logger.Info("run starting",
		slog.String("run_id", runID),
		slog.Int("jobs_total", total),
		slog.Int("jobs_pending", pending),
		slog.Bool("resume", resume),
	)
}

// LogJobStart logs a job launch. logger is expected to come from
// EnrichLogger, which carries the run and job IDs.
func LogJobStart(logger *slog.Logger, position, total int) {
	if logger == nil {
		return
	}
	logger.Info("job starting",
		slog.Int("position", position),
		slog.Int("total", total),
	)
}

// LogJobComplete logs a successful job.
func LogJobComplete(logger *slog.Logger, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("job completed",
		slog.Float64("duration_ms", durationMs),
	)
}

// LogJobError logs a failed or timed-out job. Output is the tail of the
// child's combined output, if any.
func LogJobError(logger *slog.Logger, status string, err error, output string) {
	if logger == nil {
		return
	}
	attrs := []any{slog.String("status", status)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if output != "" {
		attrs = append(attrs, slog.String("output_tail", output))
	}
	logger.Error("job failed", attrs...)
}

// LogCheckpoint logs a checkpoint write.
func LogCheckpoint(logger *slog.Logger, completed, failed int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.Int("completed", completed),
		slog.Int("failed", failed),
	)
}

// LogCheckpointError logs a checkpoint failure.
func LogCheckpointError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogSyncComplete logs a finished tree replacement.
func LogSyncComplete(logger *slog.Logger, subjectID string, deleted, inserted, linked int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("tree synced",
		slog.String("subject_id", subjectID),
		slog.Int("deleted", deleted),
		slog.Int("inserted", inserted),
		slog.Int("linked", linked),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBatchSplit logs a timed-out insert batch being halved.
func LogBatchSplit(logger *slog.Logger, size, preferred int) {
	if logger == nil {
		return
	}
	logger.Warn("insert batch timed out, splitting",
		slog.Int("batch_size", size),
		slog.Int("next_preferred", preferred),
	)
}

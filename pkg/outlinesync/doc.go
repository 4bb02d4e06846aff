/*
Package outlinesync runs a declared list of outline ingestion jobs one after
another, recording each job's terminal state in a checkpoint so an
interrupted batch can resume where it stopped.

# Overview

Each job is an isolated child process, normally `outline-sync sync`, which
parses one subject's outline and replaces that subject's topic tree in the
staging store. The orchestrator never runs two jobs at once:

	cp := checkpoint.NewFileStore("state/checkpoint.json")
	orch := outlinesync.New(cp, outlinesync.NewProcessRunner())
	summary, err := orch.Run(ctx, jobs, true)

# Job lifecycle

A job moves from pending to running to one of success, failed or timeout.
Only terminal states are checkpointed. After every job the checkpoint is
rewritten in full before anything else happens, so a crash loses at most the
job that was running. Failed and timed-out jobs are left out of the
completed set and run again on the next resume.

# Cancellation

Cancelling the context passed to Run does not abort a running job. The
orchestrator notices the cancellation at the next job boundary, or during
the pause between jobs, writes the checkpoint and returns ErrInterrupted
along with a summary of what ran.

# Reporting

Run returns a Summary with per-job timings and any counts the jobs printed
as `COUNT name=value` lines. Summary.WriteFile writes it as JSON.

# Subpackages

  - hierarchy: outline text parsing
  - store: staging store contract and adapters (memory, SQLite, Postgres)
  - batch: adaptive batch insertion
  - treesync: subject tree replacement
  - checkpoint: checkpoint persistence
  - config: settings and job manifest
  - observability: logging helpers, metrics and tracing
  - errors: error categories and retry
*/
package outlinesync

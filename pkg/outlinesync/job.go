package outlinesync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Status is a job's lifecycle state.
type Status string

// Job states. Only terminal states are checkpointed.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Job is one independent unit of work.
type Job struct {
	ID   string   `json:"id"`
	Args []string `json:"args"`
	Env  []string `json:"env,omitempty"` // appended to the parent environment
	Dir  string   `json:"dir,omitempty"`
}

// Outcome is what a Runner observed of one job.
type Outcome struct {
	ExitCode int
	Output   []byte
	Err      error
	TimedOut bool
}

// Runner executes one job. The context carries the job's deadline; Run
// must return once it expires.
type Runner interface {
	Run(ctx context.Context, job Job) Outcome
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) Outcome

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, job Job) Outcome {
	return f(ctx, job)
}

// DefaultWaitDelay bounds how long a killed child's output pipes may stay
// open after the kill.
const DefaultWaitDelay = 5 * time.Second

// ProcessRunner runs jobs as child processes, capturing combined stdout and
// stderr.
type ProcessRunner struct {
	// Output, if set, also receives the child's output as it is produced.
	Output io.Writer

	// WaitDelay is passed to exec.Cmd.WaitDelay.
	WaitDelay time.Duration
}

// NewProcessRunner returns a runner with default settings.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{WaitDelay: DefaultWaitDelay}
}

// Run implements Runner.
func (r *ProcessRunner) Run(ctx context.Context, job Job) Outcome {
	if len(job.Args) == 0 {
		return Outcome{ExitCode: -1, Err: ErrNoCommand}
	}

	out := &lockedBuffer{}
	var w io.Writer = out
	if r.Output != nil {
		w = io.MultiWriter(out, r.Output)
	}

	cmd := exec.CommandContext(ctx, job.Args[0], job.Args[1:]...)
	cmd.Dir = job.Dir
	if len(job.Env) > 0 {
		cmd.Env = append(os.Environ(), job.Env...)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.WaitDelay = r.WaitDelay

	err := cmd.Run()
	o := Outcome{Output: out.Bytes(), Err: err}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		o.ExitCode = exitErr.ExitCode()
	default:
		o.ExitCode = -1
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.TimedOut = true
	}
	return o
}

// lockedBuffer is a bytes.Buffer safe for the concurrent writes exec makes
// when stdout and stderr are separate pipes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

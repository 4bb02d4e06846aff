package outlinesync

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/outlinesync/pkg/outlinesync/checkpoint"
	oserrors "github.com/randalmurphal/outlinesync/pkg/outlinesync/errors"
)

// scriptRunner returns scripted outcomes and records what ran, and when.
type scriptRunner struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	hooks    map[string]func(ctx context.Context)
	ran      []string
	starts   []time.Time
	ends     []time.Time
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{
		outcomes: map[string]Outcome{},
		hooks:    map[string]func(ctx context.Context){},
	}
}

func (r *scriptRunner) Run(ctx context.Context, job Job) Outcome {
	r.mu.Lock()
	r.ran = append(r.ran, job.ID)
	r.starts = append(r.starts, time.Now())
	hook := r.hooks[job.ID]
	out := r.outcomes[job.ID]
	r.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	r.mu.Lock()
	r.ends = append(r.ends, time.Now())
	r.mu.Unlock()
	return out
}

func (r *scriptRunner) Ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func jobs(ids ...string) []Job {
	out := make([]Job, len(ids))
	for i, id := range ids {
		out[i] = Job{ID: id, Args: []string{"sync", id}}
	}
	return out
}

func fastOrchestrator(cp checkpoint.Store, r Runner, opts ...Option) *Orchestrator {
	return New(cp, r, append([]Option{WithInterJobDelay(0)}, opts...)...)
}

func TestRun_AllSucceed(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	r := newScriptRunner()
	r.outcomes["b"] = Outcome{Output: []byte("COUNT inserted=3\nCOUNT inserted=2\nnoise\n")}

	summary, err := fastOrchestrator(cp, r).Run(context.Background(), jobs("a", "b", "c"), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, r.Ran())
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.False(t, summary.Interrupted)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, map[string]int{"inserted": 5}, summary.Counts)
	assert.Equal(t, map[string]int{"inserted": 5}, summary.Jobs[1].Counts)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))

	got, err := cp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.Completed)
	assert.Equal(t, 3, cp.Saves(), "checkpoint rewritten after every job")
}

func TestRun_FailuresAreLocal(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	r := newScriptRunner()
	r.outcomes["a"] = Outcome{ExitCode: 1, Err: errors.New("exit status 1")}
	r.outcomes["b"] = Outcome{ExitCode: 2}
	r.outcomes["c"] = Outcome{TimedOut: true, ExitCode: -1}

	summary, err := fastOrchestrator(cp, r).Run(context.Background(), jobs("a", "b", "c", "d"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, r.Ran())

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.TimedOut)
	assert.Equal(t, StatusFailed, summary.Jobs[0].Status)
	assert.Equal(t, StatusFailed, summary.Jobs[1].Status)
	assert.Equal(t, "exit status 2", summary.Jobs[1].Error)
	assert.Equal(t, StatusTimeout, summary.Jobs[2].Status)
	assert.Equal(t, StatusSuccess, summary.Jobs[3].Status)

	got, err := cp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, got.Completed)
	assert.Equal(t, []string{"a", "b", "c"}, got.Failed)
}

func TestRun_Resume(t *testing.T) {
	ctx := context.Background()
	seed := checkpoint.New()
	seed.MarkCompleted("A")
	seed.MarkFailed("B")
	cp := checkpoint.NewMemoryStore(seed)

	r := newScriptRunner()
	summary, err := fastOrchestrator(cp, r).Run(ctx, jobs("A", "B", "C"), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C"}, r.Ran())
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, summary.Jobs, 2)

	got, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, got.Completed)
	assert.Empty(t, got.Failed, "a retried job that succeeds leaves the failed set")
}

func TestRun_WithoutResumeIgnoresCheckpoint(t *testing.T) {
	seed := checkpoint.New()
	seed.MarkCompleted("A")
	cp := checkpoint.NewMemoryStore(seed)

	r := newScriptRunner()
	_, err := fastOrchestrator(cp, r).Run(context.Background(), jobs("A", "B"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, r.Ran())
}

func TestRun_ResumeWithoutCheckpoint(t *testing.T) {
	r := newScriptRunner()
	_, err := fastOrchestrator(checkpoint.NewMemoryStore(), r).Run(context.Background(), jobs("A"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, r.Ran())
}

func TestRun_KilledMidJobRetriesIt(t *testing.T) {
	seed := checkpoint.New()
	seed.MarkCompleted("A")
	cp := checkpoint.NewMemoryStore(seed)

	inB := make(chan struct{})
	release := make(chan struct{})
	r := newScriptRunner()
	r.hooks["B"] = func(context.Context) {
		close(inB)
		<-release
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = fastOrchestrator(cp, r).Run(context.Background(), jobs("A", "B", "C"), true)
	}()

	<-inB
	// A kill now would leave exactly this checkpoint behind.
	snapshot, err := cp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, snapshot.Completed)
	assert.False(t, snapshot.IsCompleted("B"))

	close(release)
	<-done

	// Resuming from the kill-time snapshot runs B again, then C.
	r2 := newScriptRunner()
	_, err = fastOrchestrator(checkpoint.NewMemoryStore(snapshot), r2).Run(context.Background(), jobs("A", "B", "C"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, r2.Ran())
}

func TestRun_SequentialWithDelay(t *testing.T) {
	const delay = 30 * time.Millisecond
	r := newScriptRunner()
	for _, id := range []string{"a", "b", "c"} {
		r.hooks[id] = func(context.Context) { time.Sleep(10 * time.Millisecond) }
	}

	_, err := New(checkpoint.NewMemoryStore(), r, WithInterJobDelay(delay)).
		Run(context.Background(), jobs("a", "b", "c"), false)
	require.NoError(t, err)

	require.Len(t, r.starts, 3)
	for i := 1; i < len(r.starts); i++ {
		gap := r.starts[i].Sub(r.ends[i-1])
		assert.GreaterOrEqual(t, gap, delay, "job %d started %s after previous ended", i, gap)
	}
}

func TestRun_NoDelayBeforeFirstExecutedJob(t *testing.T) {
	seed := checkpoint.New()
	seed.MarkCompleted("a")

	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	_, err := New(checkpoint.NewMemoryStore(seed), newScriptRunner(), WithClock(nil, sleep)).
		Run(context.Background(), jobs("a", "b", "c"), true)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{DefaultInterJobDelay}, sleeps, "one pause, between b and c")
}

func TestRun_JobTimeout(t *testing.T) {
	r := newScriptRunner()
	r.hooks["slow"] = func(ctx context.Context) { <-ctx.Done() }

	summary, err := fastOrchestrator(checkpoint.NewMemoryStore(), r, WithJobTimeout(50*time.Millisecond)).
		Run(context.Background(), jobs("slow", "next"), false)
	require.NoError(t, err)

	assert.Equal(t, StatusTimeout, summary.Jobs[0].Status)
	assert.Equal(t, "timeout after 50ms: job slow", summary.Jobs[0].Error)
	assert.Equal(t, StatusSuccess, summary.Jobs[1].Status)
	assert.Equal(t, 1, summary.TimedOut)
}

func TestRun_InterruptDuringJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cp := checkpoint.NewMemoryStore()

	var jobCtxErr error
	r := newScriptRunner()
	r.hooks["a"] = func(jobCtx context.Context) {
		cancel()
		jobCtxErr = jobCtx.Err()
	}

	summary, err := fastOrchestrator(cp, r).Run(ctx, jobs("a", "b"), false)
	assert.ErrorIs(t, err, ErrInterrupted)
	require.NotNil(t, summary)
	assert.True(t, summary.Interrupted)
	assert.NoError(t, jobCtxErr, "in-flight job is not cancelled")
	assert.Equal(t, []string{"a"}, r.Ran())

	got, err := cp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Completed)
	assert.Equal(t, 2, cp.Saves(), "saved after a and flushed on interrupt")
}

func TestRun_InterruptDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newScriptRunner()
	r.hooks["a"] = func(context.Context) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
	}

	start := time.Now()
	summary, err := New(checkpoint.NewMemoryStore(), r, WithInterJobDelay(time.Minute)).
		Run(ctx, jobs("a", "b"), false)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.True(t, summary.Interrupted)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, []string{"a"}, r.Ran())
}

func TestRun_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cp := checkpoint.NewMemoryStore()
	r := newScriptRunner()

	summary, err := fastOrchestrator(cp, r).Run(ctx, jobs("a"), false)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Empty(t, r.Ran())
	assert.Empty(t, summary.Jobs)

	_, err = cp.Load(context.Background())
	assert.NoError(t, err, "interrupt still flushes a checkpoint")
}

func TestRun_InterruptDuringLastJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cp := checkpoint.NewMemoryStore()

	r := newScriptRunner()
	r.hooks["b"] = func(context.Context) { cancel() }

	summary, err := fastOrchestrator(cp, r).Run(ctx, jobs("a", "b"), false)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, oserrors.IsInterrupt(err))
	require.NotNil(t, summary)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 2, summary.Succeeded, "the job in flight still finishes")

	got, err := cp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Completed)
}

func TestRun_InterruptWithOnlyCompletedJobsLeft(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seed := checkpoint.New()
	seed.MarkCompleted("c")
	cp := checkpoint.NewMemoryStore(seed)

	r := newScriptRunner()
	r.hooks["b"] = func(context.Context) { cancel() }

	summary, err := fastOrchestrator(cp, r).Run(ctx, jobs("a", "b", "c"), true)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, []string{"a", "b"}, r.Ran())
	assert.Equal(t, 1, summary.Skipped)
}

func TestRun_LogAttributesAreNotDuplicated(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := newScriptRunner()
	r.outcomes["b"] = Outcome{ExitCode: 1, Output: []byte("boom\n")}

	_, err := fastOrchestrator(checkpoint.NewMemoryStore(), r, WithLogger(logger)).
		Run(context.Background(), jobs("a", "b"), false)
	require.NoError(t, err)

	var jobLines int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, strings.Count(line, `"run_id"`), 1, line)
		assert.LessOrEqual(t, strings.Count(line, `"job_id"`), 1, line)
		if strings.Contains(line, `"msg":"job `) {
			jobLines++
			assert.Contains(t, line, `"run_id"`, line)
			assert.Contains(t, line, `"job_id"`, line)
		}
	}
	assert.Equal(t, 4, jobLines, "start and finish for each job")
}

func TestRun_InvalidJobs(t *testing.T) {
	o := fastOrchestrator(checkpoint.NewMemoryStore(), newScriptRunner())

	_, err := o.Run(context.Background(), jobs("a", "b", "a"), false)
	assert.ErrorIs(t, err, ErrDuplicateJob)

	_, err = o.Run(context.Background(), []Job{{ID: ""}}, false)
	assert.ErrorIs(t, err, ErrEmptyJobID)
}

// failingStore fails every Save after the first n.
type failingStore struct {
	*checkpoint.MemoryStore
	allow int
}

func (f *failingStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if f.allow <= 0 {
		return errors.New("disk full")
	}
	f.allow--
	return f.MemoryStore.Save(ctx, cp)
}

func TestRun_CheckpointSaveFailureStops(t *testing.T) {
	store := &failingStore{MemoryStore: checkpoint.NewMemoryStore(), allow: 1}
	r := newScriptRunner()

	summary, err := fastOrchestrator(store, r).Run(context.Background(), jobs("a", "b", "c"), false)
	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "save", cpErr.Op)
	assert.Equal(t, "b", cpErr.JobID)
	assert.Equal(t, []string{"a", "b"}, r.Ran())
	assert.Len(t, summary.Jobs, 2)
}

// brokenLoad fails Load with a non-ErrNotFound error.
type brokenLoad struct{ checkpoint.MemoryStore }

func (b *brokenLoad) Load(context.Context) (*checkpoint.Checkpoint, error) {
	return nil, errors.New("corrupt")
}

func TestRun_CheckpointLoadFailure(t *testing.T) {
	r := newScriptRunner()
	_, err := fastOrchestrator(&brokenLoad{}, r).Run(context.Background(), jobs("a"), true)
	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "load", cpErr.Op)
	assert.Empty(t, r.Ran())
}

func TestRun_ChildProcesses(t *testing.T) {
	cp := checkpoint.NewFileStore(t.TempDir() + "/checkpoint.json")
	o := New(cp, NewProcessRunner(), WithInterJobDelay(0), WithJobTimeout(2*time.Second))

	summary, err := o.Run(context.Background(), []Job{
		helperJob("ok-1", "ok"),
		helperJob("broken", "fail"),
		helperJob("ok-2", "ok"),
	}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.Jobs[1].ExitCode)
	assert.Equal(t, map[string]int{"inserted": 10, "linked": 8}, summary.Counts)

	got, err := cp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ok-1", "ok-2"}, got.Completed)
	assert.Equal(t, []string{"broken"}, got.Failed)
}

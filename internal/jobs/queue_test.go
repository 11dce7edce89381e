package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/trophysync/internal/progress"
	"github.com/asteroid-belt/trophysync/internal/testutil"
)

var errFlaky = errors.New("flaky")

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Serve(ctx)
	}()
	t.Cleanup(func() {
		q.Close()
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, q *Queue, id string) *Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := q.Wait(ctx, id, 5*time.Millisecond, nil)
	require.NoError(t, err)
	return rec
}

func TestQueue_RunsJobAndStoresResult(t *testing.T) {
	q := NewQueue(NewMemoryStore(time.Hour), Options{Workers: 2})
	q.Register("echo", func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error) {
		var params struct {
			Name string `json:"name"`
		}
		require.NoError(t, task.Decode(&params))
		tr := progress.NewTracker(2, progress.ModeQuick, pub)
		tr.Update(1, "working on "+params.Name, params.Name)
		tr.Complete("done")
		return &progress.Result{Status: progress.StatusSuccess, Message: "hello " + params.Name}, nil
	}, RetryPolicy{})
	startQueue(t, q)

	id, err := q.Enqueue(context.Background(), "echo", 7, map[string]string{"name": "portal"})
	require.NoError(t, err)

	rec := waitFor(t, q, id)
	assert.Equal(t, StateSuccess, rec.State)
	assert.Equal(t, int64(7), rec.UserID)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "hello portal", rec.Result.Message)
	require.NotNil(t, rec.Progress, "last snapshot survives completion")
	assert.Equal(t, progress.PhaseCompleted, rec.Progress.Phase)
	assert.NotNil(t, rec.StartedAt)
	assert.NotNil(t, rec.FinishedAt)
}

func TestQueue_OnFinishSeesTerminalRecord(t *testing.T) {
	finished := make(chan Record, 1)
	q := NewQueue(NewMemoryStore(0), Options{OnFinish: func(rec Record, _ time.Duration) { finished <- rec }})
	q.Register("boom", func(context.Context, *Task, progress.Publisher) (*progress.Result, error) {
		return nil, errors.New("bad input")
	}, RetryPolicy{})
	startQueue(t, q)

	id, err := q.Enqueue(context.Background(), "boom", 3, nil)
	require.NoError(t, err)

	select {
	case rec := <-finished:
		assert.Equal(t, id, rec.ID)
		assert.Equal(t, StateFailure, rec.State)
		assert.Equal(t, "bad input", rec.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("OnFinish not called")
	}
}

func TestQueue_UnknownKind(t *testing.T) {
	q := NewQueue(NewMemoryStore(0), Options{})
	_, err := q.Enqueue(context.Background(), "nope", 1, nil)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestQueue_RetriesRetryableErrors(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(NewMemoryStore(0), Options{})
	q.Register("flaky", func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error) {
		if calls.Add(1) == 1 {
			return nil, errFlaky
		}
		return &progress.Result{Status: progress.StatusSuccess}, nil
	}, RetryPolicy{MaxRetries: 3, Countdown: 10 * time.Millisecond, Retryable: func(err error) bool { return errors.Is(err, errFlaky) }})
	startQueue(t, q)

	id, err := q.Enqueue(context.Background(), "flaky", 1, nil)
	require.NoError(t, err)

	rec := waitFor(t, q, id)
	assert.Equal(t, StateSuccess, rec.State)
	assert.Equal(t, 1, rec.Retries)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(NewMemoryStore(0), Options{})
	q.Register("broken", func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error) {
		calls.Add(1)
		return nil, errFlaky
	}, RetryPolicy{MaxRetries: 2, Countdown: time.Millisecond, Retryable: func(error) bool { return true }})
	startQueue(t, q)

	id, err := q.Enqueue(context.Background(), "broken", 1, nil)
	require.NoError(t, err)

	rec := waitFor(t, q, id)
	assert.Equal(t, StateFailure, rec.State)
	assert.Equal(t, "flaky", rec.Error)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_TerminalErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(NewMemoryStore(0), Options{})
	q.Register("invalid", func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error) {
		calls.Add(1)
		return nil, errors.New("user not found")
	}, RetryPolicy{MaxRetries: 3, Countdown: time.Millisecond, Retryable: func(err error) bool { return errors.Is(err, errFlaky) }})
	startQueue(t, q)

	id, err := q.Enqueue(context.Background(), "invalid", 1, nil)
	require.NoError(t, err)

	rec := waitFor(t, q, id)
	assert.Equal(t, StateFailure, rec.State)
	assert.Nil(t, rec.Result)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_PanicBecomesFailure(t *testing.T) {
	q := NewQueue(NewMemoryStore(0), Options{})
	q.Register("panics", func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error) {
		panic("boom")
	}, RetryPolicy{})
	startQueue(t, q)

	id, err := q.Enqueue(context.Background(), "panics", 1, nil)
	require.NoError(t, err)

	rec := waitFor(t, q, id)
	assert.Equal(t, StateFailure, rec.State)
	assert.Contains(t, rec.Error, "boom")
}

func TestQueue_CancelPendingJobNeverRuns(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(NewMemoryStore(0), Options{})
	q.Register("work", func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error) {
		calls.Add(1)
		return &progress.Result{}, nil
	}, RetryPolicy{})

	ctx := context.Background()
	revokedID, err := q.Enqueue(ctx, "work", 1, nil)
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, revokedID, false))

	// A job queued after the revoked one proves the worker got past it.
	okID, err := q.Enqueue(ctx, "work", 1, nil)
	require.NoError(t, err)

	startQueue(t, q)
	assert.Equal(t, StateSuccess, waitFor(t, q, okID).State)

	rec, err := q.Get(ctx, revokedID)
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, rec.State)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_HardCancelInterruptsRunningJob(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan error, 1)
	q := NewQueue(NewMemoryStore(0), Options{})
	q.Register("long", func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return nil, ctx.Err()
	}, RetryPolicy{MaxRetries: 3, Retryable: func(error) bool { return true }})
	startQueue(t, q)

	ctx := context.Background()
	id, err := q.Enqueue(ctx, "long", 3, nil)
	require.NoError(t, err)
	<-started

	active := q.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.Equal(t, int64(3), active[0].UserID)

	require.NoError(t, q.Cancel(ctx, id, true))

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not interrupted")
	}

	require.Eventually(t, func() bool { return len(q.ListActive()) == 0 }, 5*time.Second, 5*time.Millisecond)
	rec, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, rec.State, "revoked is never overwritten")
}

func TestQueue_SoftCancelDiscardsOutcome(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var finished sync.WaitGroup
	finished.Add(1)

	q := NewQueue(NewMemoryStore(0), Options{})
	q.Register("soft", func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error) {
		defer finished.Done()
		close(started)
		<-release
		return &progress.Result{Status: progress.StatusSuccess}, ctx.Err()
	}, RetryPolicy{})
	startQueue(t, q)

	ctx := context.Background()
	id, err := q.Enqueue(ctx, "soft", 1, nil)
	require.NoError(t, err)
	<-started

	require.NoError(t, q.Cancel(ctx, id, false))
	close(release)
	finished.Wait()

	require.Eventually(t, func() bool { return len(q.ListActive()) == 0 }, 5*time.Second, 5*time.Millisecond)
	rec, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, rec.State)
	assert.Nil(t, rec.Result)
}

func TestQueue_ClosedRejectsJobs(t *testing.T) {
	q := NewQueue(NewMemoryStore(0), Options{})
	q.Register("work", func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error) {
		return nil, nil
	}, RetryPolicy{})
	q.Close()

	_, err := q.Enqueue(context.Background(), "work", 1, nil)
	assert.True(t, errors.Is(err, ErrQueueClosed))
}

func TestQueue_FullQueueLeavesNoPendingRecord(t *testing.T) {
	store := NewMemoryStore(0)
	q := NewQueue(store, Options{QueueSize: 1})
	q.Register("work", func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error) {
		return nil, nil
	}, RetryPolicy{})

	ctx := context.Background()
	accepted, err := q.Enqueue(ctx, "work", 1, nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "work", 1, nil)
	require.ErrorIs(t, err, ErrQueueFull)

	store.mu.RLock()
	ids := make([]string, 0, len(store.records))
	for id := range store.records {
		ids = append(ids, id)
	}
	store.mu.RUnlock()
	require.Len(t, ids, 2)

	for _, id := range ids {
		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		if id == accepted {
			assert.Equal(t, StatePending, rec.State)
			continue
		}
		assert.Equal(t, StateFailure, rec.State)
		assert.Equal(t, ErrQueueFull.Error(), rec.Error)
		assert.NotNil(t, rec.FinishedAt)
	}
}

func TestStream_KeepsLatestSnapshot(t *testing.T) {
	s := newStream()
	for i := 1; i <= 50; i++ {
		s.Publish(progress.Progress{Current: i})
	}

	var got []int
	go s.run(func(p progress.Progress) { got = append(got, p.Current) })
	s.close()

	require.NotEmpty(t, got)
	assert.Equal(t, 50, got[len(got)-1])
	assert.LessOrEqual(t, len(got), 2)

	s.Publish(progress.Progress{Current: 99}) // dropped after close
	assert.Equal(t, 50, got[len(got)-1])
}

func TestMemoryStore_TerminalRecordsExpire(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, &Record{ID: "running", State: StateProgress}))
	require.NoError(t, s.Put(ctx, &Record{ID: "done", State: StateSuccess}))

	now = now.Add(2 * time.Minute)

	rec, err := s.Get(ctx, "done")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = s.Get(ctx, "running")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateProgress, rec.State)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	client := testutil.SkipWithoutRedis(t)
	ctx := context.Background()
	s := NewRedisStore(client, time.Minute)

	missing, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	p := progress.Progress{Current: 3, Total: 10, Phase: progress.PhaseSyncing}
	require.NoError(t, s.Put(ctx, &Record{ID: "job-1", Kind: "sync.full", UserID: 9, State: StateProgress, Progress: &p}))

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateProgress, rec.State)
	assert.Equal(t, int64(9), rec.UserID)
	assert.Equal(t, 3, rec.Progress.Current)
}

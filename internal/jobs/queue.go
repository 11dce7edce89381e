package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/metrics"
	"github.com/asteroid-belt/trophysync/internal/progress"
)

// Handler runs one attempt of a job. Snapshots sent to pub reach the status
// store asynchronously.
type Handler func(ctx context.Context, task *Task, pub progress.Publisher) (*progress.Result, error)

// RetryPolicy decides whether a failed attempt is retried as a whole.
type RetryPolicy struct {
	MaxRetries int
	Countdown  time.Duration
	Retryable  func(error) bool
}

// Options configures a Queue.
type Options struct {
	Workers   int
	QueueSize int

	// OnFinish, if set, is called once per job that reached a terminal
	// state on a worker.
	OnFinish func(rec Record, elapsed time.Duration)
}

const defaultQueueSize = 256

type registration struct {
	handler Handler
	policy  RetryPolicy
}

type runningTask struct {
	task      *Task
	cancel    context.CancelFunc
	startedAt time.Time
}

// Queue is an in-process job queue backed by a worker pool.
type Queue struct {
	store    Store
	workers  int
	pending  chan *Task
	onFinish func(rec Record, elapsed time.Duration)
	now      func() time.Time

	mu       sync.Mutex
	handlers map[string]registration
	running  map[string]*runningTask
	revoked  map[string]struct{}
	timers   map[string]*time.Timer
	closed   bool

	// recMu serializes read-modify-write cycles on records.
	recMu sync.Mutex
}

// NewQueue creates a queue writing job records to store.
func NewQueue(store Store, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Queue{
		store:    store,
		workers:  opts.Workers,
		pending:  make(chan *Task, opts.QueueSize),
		onFinish: opts.OnFinish,
		now:      time.Now,
		handlers: make(map[string]registration),
		running:  make(map[string]*runningTask),
		revoked:  make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
}

// Register installs the handler for kind.
func (q *Queue) Register(kind string, h Handler, policy RetryPolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = registration{handler: h, policy: policy}
}

// Workers returns the size of the worker pool.
func (q *Queue) Workers() int {
	return q.workers
}

// Enqueue schedules a job and returns its id. params is JSON-encoded into
// the task payload.
func (q *Queue) Enqueue(ctx context.Context, kind string, userID int64, params any) (string, error) {
	q.mu.Lock()
	_, ok := q.handlers[kind]
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return "", ErrQueueClosed
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	task := &Task{ID: uuid.NewString(), Kind: kind, UserID: userID}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("encode %s params: %w", kind, err)
		}
		task.Payload = payload
	}

	rec := &Record{
		ID:         task.ID,
		Kind:       kind,
		UserID:     userID,
		State:      StatePending,
		EnqueuedAt: q.now(),
	}
	if err := q.store.Put(ctx, rec); err != nil {
		return "", err
	}

	select {
	case q.pending <- task:
	default:
		// The record is already visible; leave it terminal, never pending.
		finished := q.now()
		rec.State = StateFailure
		rec.Error = ErrQueueFull.Error()
		rec.FinishedAt = &finished
		if err := q.store.Put(context.WithoutCancel(ctx), rec); err != nil {
			log.Warn().Err(err).Str("job_id", task.ID).Msg("failed to record rejected job")
		}
		return "", ErrQueueFull
	}

	metrics.JobsEnqueued.WithLabelValues(kind).Inc()
	metrics.JobsQueued.Inc()
	log.Debug().Str("job_id", task.ID).Str("kind", kind).Int64("user_id", userID).Msg("job enqueued")
	return task.ID, nil
}

// Get returns the stored record for id, or nil when unknown.
func (q *Queue) Get(ctx context.Context, id string) (*Record, error) {
	return q.store.Get(ctx, id)
}

// Cancel revokes a job. Pending and retrying jobs never run again; a
// running job is interrupted only when hard is set, otherwise it finishes
// but its outcome is discarded.
func (q *Queue) Cancel(ctx context.Context, id string, hard bool) error {
	q.recMu.Lock()
	defer q.recMu.Unlock()

	q.mu.Lock()
	q.revoked[id] = struct{}{}
	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
	rt := q.running[id]
	q.mu.Unlock()

	if hard && rt != nil {
		rt.cancel()
	}

	rec, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{ID: id, EnqueuedAt: q.now()}
	}
	if rec.State.Terminal() {
		return nil
	}
	finished := q.now()
	rec.State = StateRevoked
	rec.FinishedAt = &finished
	log.Info().Str("job_id", id).Bool("terminate", hard).Msg("job revoked")
	return q.store.Put(ctx, rec)
}

// ListActive returns the jobs currently held by a worker, oldest first.
func (q *Queue) ListActive() []RunningJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]RunningJob, 0, len(q.running))
	for _, rt := range q.running {
		out = append(out, RunningJob{
			ID:        rt.task.ID,
			Kind:      rt.task.Kind,
			UserID:    rt.task.UserID,
			StartedAt: rt.startedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Wait polls the record for id until it is terminal or ctx is done. fn, if
// not nil, sees every polled record.
func (q *Queue) Wait(ctx context.Context, id string, interval time.Duration, fn func(*Record)) (*Record, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rec, err := q.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			if fn != nil {
				fn(rec)
			}
			if rec.State.Terminal() {
				return rec, nil
			}
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Serve runs the worker pool until ctx is done.
func (q *Queue) Serve(ctx context.Context) error {
	log.Info().Int("workers", q.workers).Msg("job queue started")

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	wg.Wait()

	log.Info().Msg("job queue stopped")
	return ctx.Err()
}

func (q *Queue) String() string { return "job-queue" }

// Close rejects new jobs and drops scheduled retries.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.pending:
			metrics.JobsQueued.Dec()
			q.run(ctx, task)
		}
	}
}

func (q *Queue) run(ctx context.Context, task *Task) {
	q.mu.Lock()
	reg, ok := q.handlers[task.Kind]
	_, revoked := q.revoked[task.ID]
	if revoked {
		delete(q.revoked, task.ID)
	}
	q.mu.Unlock()

	if revoked {
		log.Debug().Str("job_id", task.ID).Msg("skipping revoked job")
		metrics.JobsFinished.WithLabelValues(task.Kind, "revoked").Inc()
		return
	}
	if !ok {
		q.fail(ctx, task, fmt.Errorf("%w: %s", ErrUnknownKind, task.Kind))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Record writes outlive shutdown and hard cancellation.
	storeCtx := context.WithoutCancel(ctx)

	startedAt := q.now()
	q.mu.Lock()
	q.running[task.ID] = &runningTask{task: task, cancel: cancel, startedAt: startedAt}
	q.mu.Unlock()
	metrics.JobsActive.Inc()

	if !q.markStarted(storeCtx, task, startedAt) {
		q.untrack(task.ID)
		return
	}

	logger := log.With().Str("job_id", task.ID).Str("kind", task.Kind).Int64("user_id", task.UserID).Logger()
	logger.Info().Int("attempt", task.Attempt).Msg("job started")
	jobCtx = log.WithContext(jobCtx, logger)

	st := newStream()
	go st.run(func(p progress.Progress) { q.recordProgress(storeCtx, task.ID, p) })

	result, err := invoke(jobCtx, reg.handler, task, st)
	st.close()
	q.untrack(task.ID)

	elapsed := q.now().Sub(startedAt)
	q.finish(storeCtx, task, reg.policy, result, err, elapsed)
}

func invoke(ctx context.Context, h Handler, task *Task, pub progress.Publisher) (result *progress.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, task, pub)
}

func (q *Queue) untrack(id string) {
	q.mu.Lock()
	delete(q.running, id)
	q.mu.Unlock()
	metrics.JobsActive.Dec()
}

// markStarted moves the record to STARTED. It returns false when the job
// was revoked in the meantime.
func (q *Queue) markStarted(ctx context.Context, task *Task, at time.Time) bool {
	q.recMu.Lock()
	defer q.recMu.Unlock()

	rec, err := q.store.Get(ctx, task.ID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", task.ID).Msg("failed to load job record")
	}
	if rec == nil {
		rec = &Record{ID: task.ID, Kind: task.Kind, UserID: task.UserID, EnqueuedAt: at}
	}
	if rec.State == StateRevoked {
		return false
	}
	rec.State = StateStarted
	rec.StartedAt = &at
	rec.Error = ""
	rec.Retries = task.Attempt
	if err := q.store.Put(ctx, rec); err != nil {
		log.Warn().Err(err).Str("job_id", task.ID).Msg("failed to store job record")
	}
	return true
}

func (q *Queue) recordProgress(ctx context.Context, id string, p progress.Progress) {
	q.recMu.Lock()
	defer q.recMu.Unlock()

	rec, err := q.store.Get(ctx, id)
	if err != nil || rec == nil || rec.State.Terminal() {
		return
	}
	rec.State = StateProgress
	rec.Progress = &p
	if err := q.store.Put(ctx, rec); err != nil {
		log.Warn().Err(err).Str("job_id", id).Msg("failed to store job progress")
	}
}

func (q *Queue) finish(ctx context.Context, task *Task, policy RetryPolicy, result *progress.Result, runErr error, elapsed time.Duration) {
	q.recMu.Lock()
	defer q.recMu.Unlock()

	logger := log.With().Str("job_id", task.ID).Str("kind", task.Kind).Int64("user_id", task.UserID).Logger()

	q.mu.Lock()
	delete(q.revoked, task.ID)
	q.mu.Unlock()

	rec, err := q.store.Get(ctx, task.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load job record")
	}
	if rec == nil {
		rec = &Record{ID: task.ID, Kind: task.Kind, UserID: task.UserID}
	}
	if rec.State == StateRevoked {
		metrics.ObserveJob(task.Kind, "revoked", elapsed)
		logger.Info().Dur("elapsed", elapsed).Msg("job revoked while running")
		q.notifyFinished(*rec, elapsed)
		return
	}

	now := q.now()
	switch {
	case runErr == nil:
		rec.State = StateSuccess
		rec.Result = result
		rec.Error = ""
		rec.FinishedAt = &now
		metrics.ObserveJob(task.Kind, "success", elapsed)
		logger.Info().Dur("elapsed", elapsed).Msg("job finished")

	case !q.isClosed() && policy.Retryable != nil && policy.Retryable(runErr) && task.Attempt < policy.MaxRetries:
		rec.State = StateRetry
		rec.Error = runErr.Error()
		rec.Retries = task.Attempt + 1
		metrics.JobRetries.WithLabelValues(task.Kind).Inc()
		logger.Warn().Err(runErr).Int("retry", rec.Retries).Dur("countdown", policy.Countdown).Msg("job failed, retrying")
		next := *task
		next.Attempt++
		q.schedule(&next, policy.Countdown)

	default:
		rec.State = StateFailure
		rec.Error = runErr.Error()
		rec.FinishedAt = &now
		metrics.ObserveJob(task.Kind, "failure", elapsed)
		logger.Error().Err(runErr).Dur("elapsed", elapsed).Msg("job failed")
	}

	if err := q.store.Put(ctx, rec); err != nil {
		logger.Warn().Err(err).Msg("failed to store job record")
	}
	if rec.State.Terminal() {
		q.notifyFinished(*rec, elapsed)
	}
}

func (q *Queue) notifyFinished(rec Record, elapsed time.Duration) {
	if q.onFinish != nil {
		q.onFinish(rec, elapsed)
	}
}

// fail records a terminal failure for a job that never reached a handler.
func (q *Queue) fail(ctx context.Context, task *Task, runErr error) {
	q.finish(ctx, task, RetryPolicy{}, nil, runErr, 0)
}

func (q *Queue) schedule(task *Task, after time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.timers[task.ID] = time.AfterFunc(after, func() {
		q.mu.Lock()
		delete(q.timers, task.ID)
		q.mu.Unlock()

		select {
		case q.pending <- task:
			metrics.JobsQueued.Inc()
		default:
			q.fail(context.Background(), task, ErrQueueFull)
		}
	})
}

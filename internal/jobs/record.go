// Package jobs is the job execution substrate: an in-process queue with a
// worker pool, whole-job retries, cancellation and a status store fed by a
// one-way progress stream.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/asteroid-belt/trophysync/internal/progress"
)

// State is the raw state of a job.
type State string

const (
	StatePending  State = "PENDING"
	StateStarted  State = "STARTED"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
	StateRetry    State = "RETRY"
	StateRevoked  State = "REVOKED"
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateRevoked
}

var (
	// ErrUnknownKind is returned when enqueuing a kind with no handler.
	ErrUnknownKind = errors.New("jobs: unknown job kind")
	// ErrQueueFull is returned when the pending buffer is exhausted.
	ErrQueueFull = errors.New("jobs: queue full")
	// ErrQueueClosed is returned after the queue stopped serving.
	ErrQueueClosed = errors.New("jobs: queue closed")
)

// Task is one unit of work handed to a handler.
type Task struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	UserID  int64           `json:"user_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Attempt int             `json:"attempt"`
}

// Decode unmarshals the task payload into v. An empty payload leaves v
// untouched.
func (t *Task) Decode(v any) error {
	if len(t.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(t.Payload, v)
}

// Record is the stored view of a job.
type Record struct {
	ID         string             `json:"id"`
	Kind       string             `json:"kind"`
	UserID     int64              `json:"user_id"`
	State      State              `json:"state"`
	Progress   *progress.Progress `json:"progress,omitempty"`
	Result     *progress.Result   `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	Retries    int                `json:"retries"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// RunningJob describes a job currently held by a worker.
type RunningJob struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	UserID    int64     `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

// Store persists job records. Get returns nil, nil for unknown ids.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
}

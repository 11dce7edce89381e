// Package status normalizes raw job records into the response shape served
// to callers polling a sync. It only reads what the job substrate stored; it
// never looks inside a running job.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/asteroid-belt/trophysync/internal/jobs"
	"github.com/asteroid-belt/trophysync/internal/progress"
)

// Phase tags reported for states that carry no progress snapshot.
const (
	PhasePending   = "pending"
	PhaseStarted   = "started"
	PhaseProgress  = "progress"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseRetry     = "retry"
	PhaseCancelled = "cancelled"
)

// Unknown is reported when a duration or ETA cannot be computed.
const Unknown = "Unknown"

// Jobs is the part of the job substrate the service needs.
type Jobs interface {
	Get(ctx context.Context, id string) (*jobs.Record, error)
	Cancel(ctx context.Context, id string, hard bool) error
	ListActive() []jobs.RunningJob
}

// View is the normalized status of one job.
type View struct {
	JobID      string     `json:"task_id"`
	State      jobs.State `json:"state"`
	Kind       string     `json:"kind,omitempty"`
	Ready      bool       `json:"ready"`
	Successful bool       `json:"successful"`
	Failed     bool       `json:"failed"`

	Current      int           `json:"current"`
	Total        int           `json:"total"`
	Percentage   float64       `json:"percentage"`
	Status       string        `json:"status"`
	Phase        string        `json:"phase"`
	GamesSynced  int           `json:"games_synced"`
	GamesSkipped int           `json:"games_skipped"`
	GamesFailed  int           `json:"failed_games"`
	CurrentGame  string        `json:"current_game,omitempty"`
	Mode         progress.Mode `json:"sync_type,omitempty"`
	StartTime    *time.Time    `json:"start_time,omitempty"`
	DateDone     *time.Time    `json:"date_done,omitempty"`
	Retries      int           `json:"retries,omitempty"`

	// Result is set only once the job succeeded.
	Result *progress.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Summary is a View reduced to what a progress display needs, plus
// formatted elapsed time and ETA.
type Summary struct {
	JobID        string        `json:"task_id"`
	State        jobs.State    `json:"state"`
	Status       string        `json:"status"`
	Percentage   float64       `json:"percentage"`
	Phase        string        `json:"phase"`
	Mode         progress.Mode `json:"sync_type,omitempty"`
	Duration     string        `json:"duration,omitempty"`
	ETA          string        `json:"eta,omitempty"`
	GamesSynced  int           `json:"games_synced"`
	GamesSkipped int           `json:"games_skipped"`
	TotalGames   int           `json:"total_games"`
}

// CancelResult acknowledges a cancel request.
type CancelResult struct {
	Status     string `json:"status"`
	JobID      string `json:"task_id"`
	Terminated bool   `json:"terminated"`
	Message    string `json:"message"`
}

// Service answers status queries.
type Service struct {
	jobs Jobs
	now  func() time.Time
}

// New creates a status service over j.
func New(j Jobs) *Service {
	return &Service{jobs: j, now: time.Now}
}

// Get returns the normalized status of id. Unknown ids read as pending.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	rec, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	v := Normalize(id, rec)
	return &v, nil
}

// Summary returns the derived summary of id.
func (s *Service) Summary(ctx context.Context, id string) (*Summary, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sum := Summarize(*v, s.now())
	return &sum, nil
}

// Cancel revokes id. With terminate set a running job is interrupted
// between games; otherwise it finishes and its outcome is discarded.
func (s *Service) Cancel(ctx context.Context, id string, terminate bool) (*CancelResult, error) {
	if err := s.jobs.Cancel(ctx, id, terminate); err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}
	return &CancelResult{
		Status:     "cancelled",
		JobID:      id,
		Terminated: terminate,
		Message:    fmt.Sprintf("Task %s has been cancelled", id),
	}, nil
}

// ListActive returns the running jobs that belong to userID.
func (s *Service) ListActive(userID int64) []jobs.RunningJob {
	out := []jobs.RunningJob{}
	for _, j := range s.jobs.ListActive() {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	return out
}

// Normalize maps a raw record onto a View. A nil record is a job nobody
// has picked up yet.
func Normalize(id string, rec *jobs.Record) View {
	v := View{JobID: id, State: jobs.StatePending, Total: 1}
	if rec == nil {
		v.Status = "Task is waiting to be processed..."
		v.Phase = PhasePending
		return v
	}

	v.State = rec.State
	v.Kind = rec.Kind
	v.Ready = rec.State.Terminal()
	v.Successful = rec.State == jobs.StateSuccess
	v.Failed = rec.State == jobs.StateFailure
	v.DateDone = rec.FinishedAt
	v.Retries = rec.Retries
	v.StartTime = rec.StartedAt
	if p := rec.Progress; p != nil {
		v.Mode = p.Mode
		if !p.StartTime.IsZero() {
			start := p.StartTime
			v.StartTime = &start
		}
	}

	switch rec.State {
	case jobs.StatePending:
		v.Status = "Task is waiting to be processed..."
		v.Phase = PhasePending

	case jobs.StateStarted:
		v.Status = "Task has started..."
		v.Phase = PhaseStarted

	case jobs.StateProgress:
		p := rec.Progress
		if p == nil {
			v.Current = 1
			v.Percentage = 50
			v.Status = "Processing..."
			v.Phase = PhaseProgress
			break
		}
		v.Current = p.Current
		v.Total = p.Total
		v.Percentage = progress.Percentage(p.Current, p.Total)
		v.Status = p.Status
		v.Phase = string(p.Phase)
		v.GamesSynced = p.GamesSynced
		v.GamesSkipped = p.GamesSkipped
		v.GamesFailed = p.GamesFailed
		v.CurrentGame = p.CurrentGame

	case jobs.StateSuccess:
		v.Percentage = 100
		v.Phase = PhaseCompleted
		r := rec.Result
		if r == nil {
			v.Current = 1
			v.Status = "Task completed"
			break
		}
		v.Current = r.TotalGames
		v.Total = r.TotalGames
		v.Status = r.Message
		v.Mode = r.Mode
		v.GamesSynced = r.GamesSynced
		v.GamesSkipped = r.GamesSkipped
		v.GamesFailed = len(r.FailedGames)
		v.Result = r

	case jobs.StateFailure:
		v.Current = 1
		v.Status = "Task failed: " + rec.Error
		v.Phase = PhaseFailed
		v.Error = rec.Error

	case jobs.StateRetry:
		v.Status = "Task is being retried..."
		v.Phase = PhaseRetry
		v.Error = rec.Error

	case jobs.StateRevoked:
		v.Status = "Task was cancelled"
		v.Phase = PhaseCancelled

	default:
		v.Status = fmt.Sprintf("Task state: %s", rec.State)
	}
	return v
}

// Summarize derives the summary of v at now. Duration runs until the job
// finished, or until now while it is still running; ETA is only given for
// jobs that are not ready.
func Summarize(v View, now time.Time) Summary {
	sum := Summary{
		JobID:        v.JobID,
		State:        v.State,
		Status:       v.Status,
		Percentage:   v.Percentage,
		Phase:        v.Phase,
		Mode:         v.Mode,
		GamesSynced:  v.GamesSynced,
		GamesSkipped: v.GamesSkipped,
	}
	if v.Result != nil {
		sum.TotalGames = v.Result.TotalGames
	}

	if v.StartTime != nil {
		end := now
		if v.Ready && v.DateDone != nil {
			end = *v.DateDone
		}
		sum.Duration = FormatDuration(end.Sub(*v.StartTime))
		if !v.Ready {
			sum.ETA = EstimateRemaining(v.Current, v.Total, now.Sub(*v.StartTime))
		}
	}
	return sum
}

// FormatDuration renders d as "1d 2h 3m", "2h 3m", "3m 4s" or "4s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	rem := total % 86400
	hours, minutes, seconds := rem/3600, (rem%3600)/60, rem%60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case rem >= 3600:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case rem >= 60:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// EstimateRemaining extrapolates linearly from the rate so far. It returns
// Unknown before the first item and once current reaches total.
func EstimateRemaining(current, total int, elapsed time.Duration) string {
	if current <= 0 || current >= total || elapsed <= 0 {
		return Unknown
	}
	rate := float64(current) / elapsed.Seconds()
	remaining := float64(total-current) / rate

	switch {
	case remaining >= 3600:
		return fmt.Sprintf("~%dh %dm remaining", int(remaining/3600), int(remaining)%3600/60)
	case remaining >= 60:
		return fmt.Sprintf("~%dm remaining", int(remaining/60))
	default:
		return fmt.Sprintf("~%ds remaining", int(remaining))
	}
}

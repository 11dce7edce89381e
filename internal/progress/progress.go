// Package progress holds the per-job progress snapshot, the terminal result
// and the tracker that publishes snapshots while a job runs.
package progress

import (
	"sync"
	"time"
)

// Mode identifies the kind of job a snapshot belongs to.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeQuick    Mode = "quick"
	ModeSpecific Mode = "specific"
	ModeStats    Mode = "stats"
)

// Phase tags where a job is in its lifecycle.
type Phase string

const (
	PhaseStarting      Phase = "starting"
	PhaseFetchingGames Phase = "fetching_games"
	PhaseSyncing       Phase = "syncing"
	PhaseCheckpoint    Phase = "checkpoint"
	PhaseFinalizing    Phase = "finalizing"
	PhaseCompleted     Phase = "completed"

	// Statistics job phases.
	PhaseTrophies       Phase = "trophies"
	PhaseCompletion     Phase = "completion"
	PhaseRecentActivity Phase = "recent_activity"
)

// Progress is the snapshot published while a job runs.
type Progress struct {
	Current      int       `json:"current"`
	Total        int       `json:"total"`
	Percentage   float64   `json:"percentage"`
	Status       string    `json:"status"`
	Phase        Phase     `json:"phase"`
	GamesSynced  int       `json:"games_synced"`
	GamesSkipped int       `json:"games_skipped"`
	GamesFailed  int       `json:"games_failed"`
	StartTime    time.Time `json:"start_time"`
	CurrentGame  string    `json:"current_game,omitempty"`
	Mode         Mode      `json:"sync_type"`

	// Set on checkpoint snapshots only.
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	GamesPerSecond float64 `json:"games_per_second,omitempty"`
}

// Percentage returns current/total*100, or 0 when total is 0.
func Percentage(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(current) / float64(total) * 100
}

// Result status values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Result is the terminal outcome of a job.
type Result struct {
	Status       string         `json:"status"`
	Message      string         `json:"message"`
	GamesSynced  int            `json:"games_synced"`
	GamesSkipped int            `json:"games_skipped"`
	FailedGames  []int64        `json:"failed_games"`
	TotalGames   int            `json:"total_games"`
	Mode         Mode           `json:"sync_type"`
	CompletedAt  time.Time      `json:"completed_at"`
	Stats        map[string]any `json:"stats,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
}

// Publisher receives progress snapshots. Publish must not block the caller
// for long; later snapshots supersede earlier ones.
type Publisher interface {
	Publish(p Progress)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(p Progress)

func (f PublisherFunc) Publish(p Progress) { f(p) }

// Discard drops every snapshot.
var Discard Publisher = PublisherFunc(func(Progress) {})

// Tracker owns the mutable progress of one job and publishes a full
// snapshot on every change.
type Tracker struct {
	mu  sync.Mutex
	p   Progress
	pub Publisher
	now func() time.Time
}

// NewTracker creates a tracker for total items. A nil pub discards.
func NewTracker(total int, mode Mode, pub Publisher) *Tracker {
	if pub == nil {
		pub = Discard
	}
	t := &Tracker{pub: pub, now: time.Now}
	t.p = Progress{
		Total:     total,
		Status:    "Starting...",
		Phase:     PhaseStarting,
		StartTime: t.now(),
		Mode:      mode,
	}
	return t
}

// Update moves the tracker to current and publishes.
func (t *Tracker) Update(current int, status, game string) {
	t.mu.Lock()
	t.p.Current = current
	t.p.Status = status
	t.p.CurrentGame = game
	if t.p.Phase == PhaseStarting || t.p.Phase == PhaseFetchingGames || t.p.Phase == PhaseCheckpoint {
		t.p.Phase = PhaseSyncing
	}
	t.publishLocked()
}

// SetPhase changes the phase and status line and publishes.
func (t *Tracker) SetPhase(phase Phase, status string) {
	t.mu.Lock()
	t.p.Phase = phase
	t.p.Status = status
	t.publishLocked()
}

// Step moves to current and sets the phase in a single publish.
func (t *Tracker) Step(current int, phase Phase, status string) {
	t.mu.Lock()
	t.p.Current = current
	t.p.Phase = phase
	t.p.Status = status
	t.publishLocked()
}

// SetTotal resets the item count, used once the selection is known.
func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Total = total
	t.p.Percentage = Percentage(t.p.Current, total)
}

// IncrementSynced counts a synced game and publishes.
func (t *Tracker) IncrementSynced() {
	t.mu.Lock()
	t.p.GamesSynced++
	t.publishLocked()
}

// IncrementSkipped counts a skipped game and publishes.
func (t *Tracker) IncrementSkipped() {
	t.mu.Lock()
	t.p.GamesSkipped++
	t.publishLocked()
}

// IncrementFailed counts a failed game and publishes.
func (t *Tracker) IncrementFailed() {
	t.mu.Lock()
	t.p.GamesFailed++
	t.publishLocked()
}

// Checkpoint publishes a coarse snapshot carrying elapsed time and
// throughput.
func (t *Tracker) Checkpoint(status string) {
	t.mu.Lock()
	elapsed := t.now().Sub(t.p.StartTime)
	t.p.Phase = PhaseCheckpoint
	t.p.Status = status
	t.p.ElapsedSeconds = elapsed.Seconds()
	t.p.GamesPerSecond = rate(t.p.Current, elapsed)
	t.publishLocked()
}

// Complete marks the job finished. It is the last publish of a tracker.
func (t *Tracker) Complete(message string) {
	t.mu.Lock()
	t.p.Current = t.p.Total
	t.p.Phase = PhaseCompleted
	t.p.Status = message
	t.p.CurrentGame = ""
	t.publishLocked()
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Percentage = Percentage(t.p.Current, t.p.Total)
	return t.p
}

// Elapsed returns the time since the tracker was created.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.p.StartTime)
}

// Rate returns processed items per second.
func (t *Tracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return rate(t.p.Current, t.now().Sub(t.p.StartTime))
}

// publishLocked recomputes the percentage, unlocks and publishes a copy.
func (t *Tracker) publishLocked() {
	t.p.Percentage = Percentage(t.p.Current, t.p.Total)
	snap := t.p
	t.mu.Unlock()
	t.pub.Publish(snap)
}

func rate(current int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(current) / elapsed.Seconds()
}

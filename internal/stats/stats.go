// Package stats computes per-user trophy statistics. It runs as a job that
// follows every full sync and can also be called directly.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/jobs"
	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/models"
	"github.com/asteroid-belt/trophysync/internal/progress"
)

// Kind is the job kind of the statistics job.
const Kind = "stats.user"

// RecentWindow bounds the "recent unlocks" figure.
const RecentWindow = 30 * 24 * time.Hour

// ErrUserNotFound is returned for unknown user ids. It is terminal.
var ErrUserNotFound = errors.New("user not found")

const steps = 5

// Calculator aggregates a user's games and achievements.
type Calculator struct {
	db  *db.DB
	now func() time.Time
}

// NewCalculator creates a statistics calculator.
func NewCalculator(database *db.DB) *Calculator {
	return &Calculator{db: database, now: time.Now}
}

// Register installs the statistics handler on q. Store failures are
// retried according to policy.
func (c *Calculator) Register(q *jobs.Queue, policy jobs.RetryPolicy) {
	if policy.Retryable == nil {
		policy.Retryable = db.IsStoreError
	}
	q.Register(Kind, func(ctx context.Context, task *jobs.Task, pub progress.Publisher) (*progress.Result, error) {
		return c.Run(ctx, task.UserID, pub)
	}, policy)
}

// Run computes the statistics of userID, publishing one snapshot per phase,
// and wraps them in a job result.
func (c *Calculator) Run(ctx context.Context, userID int64, pub progress.Publisher) (*progress.Result, error) {
	st, err := c.compute(ctx, userID, progress.NewTracker(steps, progress.ModeStats, pub))
	if err != nil {
		return nil, err
	}
	return &progress.Result{
		Status:      progress.StatusSuccess,
		Message:     "User statistics calculated",
		FailedGames: []int64{},
		TotalGames:  int(st.TotalGames),
		Mode:        progress.ModeStats,
		CompletedAt: st.CalculatedAt,
		Stats:       AsMap(st),
	}, nil
}

// Compute returns the statistics of userID without publishing progress.
func (c *Calculator) Compute(ctx context.Context, userID int64) (*models.UserStats, error) {
	return c.compute(ctx, userID, progress.NewTracker(steps, progress.ModeStats, nil))
}

func (c *Calculator) compute(ctx context.Context, userID int64, tracker *progress.Tracker) (*models.UserStats, error) {
	user, err := c.db.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	st := &models.UserStats{UserID: user.ID}

	tracker.Step(1, progress.PhaseTrophies, "Calculating trophy counts...")
	if st.TrophyCounts, err = c.db.CountUnlockedByTier(user.ID); err != nil {
		return nil, err
	}
	completed, err := c.db.CountCompletedGames(user.ID)
	if err != nil {
		return nil, err
	}
	st.TrophyCounts[models.RarityPlatinum] = int(completed)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tracker.Step(2, progress.PhaseCompletion, "Calculating completion rates...")
	if st.TotalGames, err = c.db.CountGamesWithAchievements(user.ID); err != nil {
		return nil, err
	}
	if st.TotalAchievements, st.UnlockedCount, err = c.db.CountUserAchievements(user.ID); err != nil {
		return nil, err
	}
	if st.TotalAchievements > 0 {
		st.CompletionRate = round2(float64(st.UnlockedCount) / float64(st.TotalAchievements) * 100)
	}

	tracker.Step(3, progress.PhaseRecentActivity, "Analyzing recent activity...")
	now := c.now().UTC()
	if st.RecentUnlocks30d, err = c.db.CountUnlockedSince(user.ID, now.Add(-RecentWindow)); err != nil {
		return nil, err
	}

	tracker.Step(4, progress.PhaseFinalizing, "Finalizing statistics...")
	st.AchievementVelocity = round2(Velocity(st.UnlockedCount, user.CreatedAt, user.LastSync))
	st.TrophyLevel = models.TrophyLevel(st.TrophyCounts)
	st.CalculatedAt = now

	tracker.Complete("User statistics calculated")
	log.Debug().
		Int64("user_id", user.ID).
		Int64("unlocked", st.UnlockedCount).
		Int("trophy_level", st.TrophyLevel).
		Msg("user statistics calculated")
	return st, nil
}

// Velocity is unlocked achievements per whole day between account creation
// and the last sync, with a floor of one day. It is 0 until the first sync.
func Velocity(unlocked int64, createdAt time.Time, lastSync *time.Time) float64 {
	if lastSync == nil || createdAt.IsZero() {
		return 0
	}
	days := int64(lastSync.Sub(createdAt) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return float64(unlocked) / float64(days)
}

// AsMap renders st with the field names the job result exposes.
func AsMap(st *models.UserStats) map[string]any {
	counts := make(map[string]int, len(st.TrophyCounts))
	for tier, n := range st.TrophyCounts {
		counts[string(tier)] = n
	}
	return map[string]any{
		"trophy_counts":           counts,
		"total_games":             st.TotalGames,
		"total_achievements":      st.TotalAchievements,
		"unlocked_achievements":   st.UnlockedCount,
		"completion_rate":         st.CompletionRate,
		"recent_achievements_30d": st.RecentUnlocks30d,
		"achievement_velocity":    st.AchievementVelocity,
		"trophy_level":            st.TrophyLevel,
		"calculation_time":        st.CalculatedAt.Format(time.RFC3339),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Package trophy merges provider achievement data into the local store and
// detects game completion.
package trophy

import (
	"context"
	"fmt"
	"time"

	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/metrics"
	"github.com/asteroid-belt/trophysync/internal/models"
	"github.com/asteroid-belt/trophysync/internal/provider"
)

// Outcome is the result of syncing one game.
type Outcome int

const (
	// Skipped means the game had nothing to track.
	Skipped Outcome = iota
	// Synced means at least one achievement was reconciled.
	Synced
)

func (o Outcome) String() string {
	if o == Synced {
		return "synced"
	}
	return "skipped"
}

// Report describes one reconciliation.
type Report struct {
	Processed     int
	NewlyUnlocked []string // api names
	Committed     bool
	WasCompleted  bool
	Completed     bool
	Platinum      bool // a completion notification was created
}

// Reconciler merges schema, user state and global percentages into
// Achievement rows, one transaction per game.
type Reconciler struct {
	db       *db.DB
	provider provider.Client
	detector *Detector
	now      func() time.Time
}

// NewReconciler creates a reconciler. detector may be nil to disable
// completion detection.
func NewReconciler(database *db.DB, client provider.Client, detector *Detector) *Reconciler {
	return &Reconciler{db: database, provider: client, detector: detector, now: time.Now}
}

// Detector returns the completion detector, if any.
func (r *Reconciler) Detector() *Detector {
	return r.detector
}

// Reconcile refreshes the achievements of game for user. Provider failures
// are returned untouched, except a rejected percentages call, which keeps the
// stored rarity. Only persisted achievements count towards completion. A failed commit is rolled back and reported
// through Report.Committed rather than as an error.
func (r *Reconciler) Reconcile(ctx context.Context, user *models.User, game *models.Game) (*Report, error) {
	schema, err := r.provider.GetSchema(ctx, game.AppID)
	if err != nil {
		return nil, fmt.Errorf("schema for app %d: %w", game.AppID, err)
	}
	if len(schema) == 0 {
		return &Report{}, nil
	}

	states, err := r.provider.ListUserAchievements(ctx, user.SteamID, game.AppID)
	if err != nil {
		return nil, fmt.Errorf("achievements for app %d: %w", game.AppID, err)
	}
	percentages, err := r.provider.GetGlobalPercentages(ctx, game.AppID)
	if err != nil {
		if provider.IsTransport(err) {
			return nil, fmt.Errorf("global percentages for app %d: %w", game.AppID, err)
		}
		// Rarity is cosmetic. Stored percentages are kept, new rows get the default.
		log.Warn().Err(err).Int64("app_id", game.AppID).Msg("global percentages unavailable")
		percentages = nil
	}

	byName := make(map[string]provider.AchievementState, len(states))
	for _, s := range states {
		byName[s.APIName] = s
	}

	report := &Report{WasCompleted: game.IsCompleted()}
	before := *game
	logger := log.With().Int64("user_id", user.ID).Int64("app_id", game.AppID).Str("game", game.Name).Logger()

	err = r.db.Transaction(func(tx *db.DB) error {
		unlocked := 0
		for _, def := range schema {
			state, seen := byName[def.APIName]
			achieved := seen && state.Achieved

			var newly bool
			// Savepoint per item: one bad row does not poison the game.
			itemErr := tx.Transaction(func(sp *db.DB) error {
				var err error
				newly, err = upsertAchievement(sp, user.ID, game.ID, def, state, achieved, percentages)
				return err
			})
			if itemErr != nil {
				logger.Warn().Err(itemErr).Str("achievement", def.APIName).Msg("skipping achievement")
				continue
			}
			if achieved {
				unlocked++
			}
			if newly {
				report.NewlyUnlocked = append(report.NewlyUnlocked, def.APIName)
			}
			report.Processed++
		}

		game.SetCounts(len(schema), unlocked)
		now := r.now().UTC()
		game.LastSynced = &now
		return tx.SaveGame(game)
	})
	if err != nil {
		*game = before
		logger.Error().Err(err).Int("processed", report.Processed).Msg("reconciliation rolled back")
		return report, nil
	}

	report.Committed = true
	report.Completed = game.IsCompleted()
	metrics.AchievementsReconciled.Add(float64(report.Processed))

	for _, name := range report.NewlyUnlocked {
		logger.Info().Str("achievement", name).Msg("new trophy unlocked")
	}
	logger.Debug().
		Int("unlocked", game.UnlockedAchievements).
		Int("total", game.TotalAchievements).
		Float64("completion", game.CompletionPercentage).
		Msg("game reconciled")

	if report.Completed && !report.WasCompleted && r.detector != nil {
		logger.Info().Msg("game completed")
		report.Platinum = r.detector.Detect(ctx, game, user)
	}
	return report, nil
}

func upsertAchievement(tx *db.DB, userID, gameID int64, def provider.AchievementDef, state provider.AchievementState, achieved bool, percentages map[string]float64) (bool, error) {
	a, err := tx.GetAchievement(userID, gameID, def.APIName)
	if err != nil {
		return false, err
	}
	if a == nil {
		a = &models.Achievement{UserID: userID, GameID: gameID, APIName: def.APIName}
	}

	a.Name = def.DisplayName
	if a.Name == "" {
		a.Name = def.APIName
	}
	a.Description = def.Description
	a.Icon = def.Icon
	a.IconGray = def.IconGray

	// A nil map means the percentages could not be fetched.
	if percentages != nil || a.ID == 0 {
		pct, ok := percentages[def.APIName]
		if !ok {
			pct = models.DefaultGlobalPercentage
		}
		a.SetGlobalPercentage(pct)
	}

	newly := a.ApplyState(achieved, state.UnlockTime)
	if err := tx.SaveAchievement(a); err != nil {
		return false, err
	}
	return newly, nil
}

// SyncGameSummary upserts the library fields of a game and reconciles its
// achievements. Games with no playtime and no schema are placeholders and
// are skipped without touching the store.
func (r *Reconciler) SyncGameSummary(ctx context.Context, user *models.User, summary provider.GameSummary) (Outcome, *models.Game, error) {
	name := summary.Name
	if name == "" {
		name = PlaceholderName(summary.AppID)
	}

	if summary.PlaytimeForever == 0 {
		schema, err := r.provider.GetSchema(ctx, summary.AppID)
		if err != nil {
			return Skipped, nil, fmt.Errorf("schema for app %d: %w", summary.AppID, err)
		}
		if len(schema) == 0 {
			log.Debug().Int64("app_id", summary.AppID).Str("game", name).Msg("no playtime and no achievements")
			return Skipped, nil, nil
		}
	}

	in := &models.Game{
		UserID:          user.ID,
		AppID:           summary.AppID,
		Name:            name,
		PlaytimeForever: summary.PlaytimeForever,
		Playtime2Weeks:  summary.Playtime2Weeks,
	}
	if summary.LastPlayed > 0 {
		t := time.Unix(summary.LastPlayed, 0).UTC()
		in.LastPlayed = &t
	}

	game, err := r.db.UpsertGameSummary(in)
	if err != nil {
		return Skipped, nil, err
	}

	report, err := r.Reconcile(ctx, user, game)
	if err != nil {
		return Skipped, game, err
	}
	if report.Processed > 0 {
		return Synced, game, nil
	}
	return Skipped, game, nil
}

// PlaceholderName is the display name used for games the provider did not
// name.
func PlaceholderName(appID int64) string {
	return fmt.Sprintf("Game %d", appID)
}

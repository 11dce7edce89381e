// Package syncer implements the full, quick and specific sync jobs. Each
// job pulls the user's library from the provider once, then processes the
// selected games one at a time, committing per game.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/asteroid-belt/trophysync/internal/config"
	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/jobs"
	"github.com/asteroid-belt/trophysync/internal/lock"
	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/metrics"
	"github.com/asteroid-belt/trophysync/internal/models"
	"github.com/asteroid-belt/trophysync/internal/progress"
	"github.com/asteroid-belt/trophysync/internal/provider"
	"github.com/asteroid-belt/trophysync/internal/stats"
	"github.com/asteroid-belt/trophysync/internal/trophy"
)

// Job kinds.
const (
	KindFull     = "sync.full"
	KindQuick    = "sync.quick"
	KindSpecific = "sync.specific"
)

// Terminal errors. Jobs failing with these are never retried.
var (
	ErrInvalidUser    = errors.New("invalid user")
	ErrNoAccount      = errors.New("user has no linked Steam account")
	ErrSyncInProgress = errors.New("a sync is already running for this user")
)

// FullParams are the parameters of a full sync.
type FullParams struct {
	ForceRefresh bool `json:"force_refresh"`
}

// QuickParams are the parameters of a quick sync.
type QuickParams struct {
	MaxGames     int  `json:"max_games"`
	ForceRefresh bool `json:"force_refresh"`
}

// SpecificParams are the parameters of a specific-games sync.
type SpecificParams struct {
	AppIDs []int64 `json:"app_ids"`
}

// Enqueuer schedules follow-up jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, userID int64, params any) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	FullDelay       time.Duration
	QuickDelay      time.Duration
	SpecificDelay   time.Duration
	FreshnessWindow time.Duration
	CheckpointEvery int
	QuickDefaultMax int
	LockTTL         time.Duration

	MaxRetries          int
	FullRetryCountdown  time.Duration
	QuickRetryCountdown time.Duration
}

// ConfigFrom extracts the orchestrator settings from the app config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		FullDelay:           cfg.Sync.FullDelay,
		QuickDelay:          cfg.Sync.QuickDelay,
		SpecificDelay:       cfg.Sync.SpecificDelay,
		FreshnessWindow:     cfg.Sync.FreshnessWindow,
		CheckpointEvery:     cfg.Sync.CheckpointEvery,
		QuickDefaultMax:     cfg.Sync.QuickDefaultMax,
		LockTTL:             cfg.Sync.LockTTL,
		MaxRetries:          cfg.Jobs.MaxRetries,
		FullRetryCountdown:  cfg.Jobs.FullRetryCountdown,
		QuickRetryCountdown: cfg.Jobs.QuickRetryCountdown,
	}
}

// Syncer runs sync jobs.
type Syncer struct {
	db         *db.DB
	provider   provider.Client
	reconciler *trophy.Reconciler
	locker     lock.Locker
	enqueuer   Enqueuer
	cfg        Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Syncer. enqueuer may be nil, in which case no statistics
// job follows a full sync.
func New(database *db.DB, client provider.Client, reconciler *trophy.Reconciler, locker lock.Locker, enqueuer Enqueuer, cfg Config) *Syncer {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 10
	}
	if cfg.QuickDefaultMax <= 0 {
		cfg.QuickDefaultMax = 20
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 7 * 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Syncer{
		db:         database,
		provider:   client,
		reconciler: reconciler,
		locker:     locker,
		enqueuer:   enqueuer,
		cfg:        cfg,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Retryable reports whether a failed job should be retried as a whole:
// provider transport failures and store failures only.
func Retryable(err error) bool {
	return provider.IsTransport(err) || db.IsStoreError(err)
}

// Register installs the three sync handlers on q.
func (s *Syncer) Register(q *jobs.Queue) {
	policy := func(countdown time.Duration) jobs.RetryPolicy {
		return jobs.RetryPolicy{MaxRetries: s.cfg.MaxRetries, Countdown: countdown, Retryable: Retryable}
	}

	q.Register(KindFull, func(ctx context.Context, task *jobs.Task, pub progress.Publisher) (*progress.Result, error) {
		var p FullParams
		if err := task.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return s.Full(ctx, task.UserID, p, pub)
	}, policy(s.cfg.FullRetryCountdown))

	q.Register(KindQuick, func(ctx context.Context, task *jobs.Task, pub progress.Publisher) (*progress.Result, error) {
		var p QuickParams
		if err := task.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return s.Quick(ctx, task.UserID, p, pub)
	}, policy(s.cfg.QuickRetryCountdown))

	q.Register(KindSpecific, func(ctx context.Context, task *jobs.Task, pub progress.Publisher) (*progress.Result, error) {
		var p SpecificParams
		if err := task.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return s.Specific(ctx, task.UserID, p, pub)
	}, policy(s.cfg.QuickRetryCountdown))
}

// Full syncs the whole library, most played first.
func (s *Syncer) Full(ctx context.Context, userID int64, p FullParams, pub progress.Publisher) (*progress.Result, error) {
	return s.run(ctx, userID, pub, plan{
		mode:         progress.ModeFull,
		delay:        s.cfg.FullDelay,
		force:        p.ForceRefresh,
		checkpoint:   true,
		followUp:     true,
		emptyMessage: "No games found in Steam library",
		start:        func(int) string { return "Beginning complete Steam library sync..." },
		done:         func(*progress.Tracker) string { return "Full Steam sync completed successfully" },
		selectGames: func(library []provider.GameSummary) []provider.GameSummary {
			games := append([]provider.GameSummary(nil), library...)
			sort.SliceStable(games, func(i, j int) bool {
				return games[i].PlaytimeForever > games[j].PlaytimeForever
			})
			return games
		},
	})
}

// Quick syncs the top games by recent then total playtime.
func (s *Syncer) Quick(ctx context.Context, userID int64, p QuickParams, pub progress.Publisher) (*progress.Result, error) {
	maxGames := p.MaxGames
	if maxGames <= 0 {
		maxGames = s.cfg.QuickDefaultMax
	}
	return s.run(ctx, userID, pub, plan{
		mode:         progress.ModeQuick,
		delay:        s.cfg.QuickDelay,
		force:        p.ForceRefresh,
		emptyMessage: "No games found",
		start:        func(int) string { return fmt.Sprintf("Syncing your top %d most played games...", maxGames) },
		done: func(t *progress.Tracker) string {
			return fmt.Sprintf("Quick sync completed - %d games updated", t.Snapshot().GamesSynced)
		},
		selectGames: func(library []provider.GameSummary) []provider.GameSummary {
			games := append([]provider.GameSummary(nil), library...)
			sort.SliceStable(games, func(i, j int) bool {
				if games[i].Playtime2Weeks != games[j].Playtime2Weeks {
					return games[i].Playtime2Weeks > games[j].Playtime2Weeks
				}
				return games[i].PlaytimeForever > games[j].PlaytimeForever
			})
			if len(games) > maxGames {
				games = games[:maxGames]
			}
			return games
		},
	})
}

// Specific syncs exactly the requested app ids. Ids missing from the
// library are attempted with a placeholder record; anything not synced is
// reported in FailedGames.
func (s *Syncer) Specific(ctx context.Context, userID int64, p SpecificParams, pub progress.Publisher) (*progress.Result, error) {
	return s.run(ctx, userID, pub, plan{
		mode:          progress.ModeSpecific,
		delay:         s.cfg.SpecificDelay,
		force:         true,
		skippedFailed: true,
		start:         func(n int) string { return fmt.Sprintf("Syncing %d specific games...", n) },
		done:          func(*progress.Tracker) string { return "Specific games sync completed" },
		selectGames: func(library []provider.GameSummary) []provider.GameSummary {
			byID := make(map[int64]provider.GameSummary, len(library))
			for _, g := range library {
				byID[g.AppID] = g
			}
			games := make([]provider.GameSummary, 0, len(p.AppIDs))
			for _, id := range p.AppIDs {
				g, ok := byID[id]
				if !ok {
					g = provider.GameSummary{AppID: id, Name: trophy.PlaceholderName(id)}
				}
				games = append(games, g)
			}
			return games
		},
	})
}

// plan is what differs between the three sync modes.
type plan struct {
	mode          progress.Mode
	delay         time.Duration
	force         bool
	checkpoint    bool // periodic checkpoints (full only)
	followUp      bool // enqueue the statistics job afterwards
	skippedFailed bool // skipped games count as failed ids
	emptyMessage  string
	start         func(total int) string
	done          func(t *progress.Tracker) string
	selectGames   func(library []provider.GameSummary) []provider.GameSummary
}

func (s *Syncer) run(ctx context.Context, userID int64, pub progress.Publisher, pl plan) (*progress.Result, error) {
	user, err := s.resolveUser(userID)
	if err != nil {
		return nil, err
	}

	lease, err := s.locker.Acquire(ctx, lock.UserKey(user.ID), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: user %d", ErrSyncInProgress, user.ID)
		}
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Int64("user_id", user.ID).Msg("failed to release sync lock")
		}
	}()
	// A long library outlives a single TTL. The lease outlives hard
	// cancellation as the in-flight game still runs.
	stopKeepAlive := lease.KeepAlive(context.WithoutCancel(ctx), s.cfg.LockTTL/3)
	defer stopKeepAlive()

	logger := log.Ctx(ctx).With().Int64("user_id", user.ID).Str("mode", string(pl.mode)).Logger()
	tracker := progress.NewTracker(0, pl.mode, pub)
	tracker.SetPhase(progress.PhaseFetchingGames, "Fetching Steam library...")

	library, err := s.provider.ListOwnedGames(ctx, user.SteamID)
	if err != nil {
		return nil, fmt.Errorf("list owned games: %w", err)
	}
	if len(library) == 0 && pl.emptyMessage != "" {
		tracker.Complete(pl.emptyMessage)
		logger.Info().Msg("no games in library")
		return s.result(tracker, pl, pl.emptyMessage, nil, nil, nil), nil
	}

	games := pl.selectGames(library)
	tracker.SetTotal(len(games))
	tracker.SetPhase(progress.PhaseSyncing, pl.start(len(games)))
	logger.Info().Int("library", len(library)).Int("selected", len(games)).Bool("force", pl.force).Msg("sync started")

	var (
		failed    []int64
		succeeded []int64
		errs      []string
	)
	for i, g := range games {
		if i > 0 {
			// Hard cancellation lands here, between games.
			if err := s.sleep(ctx, pl.delay); err != nil {
				return nil, err
			}
		}

		name := g.Name
		if name == "" {
			name = trophy.PlaceholderName(g.AppID)
		}
		tracker.Update(i+1, fmt.Sprintf("Syncing %s (%d/%d)", name, i+1, len(games)), name)

		// The in-flight game always runs to completion.
		outcome, gameErr := s.syncGame(context.WithoutCancel(ctx), user, g, pl)
		switch {
		case gameErr != nil:
			logger.Error().Err(gameErr).Int64("app_id", g.AppID).Str("game", name).Msg("game sync failed")
			tracker.IncrementFailed()
			failed = append(failed, g.AppID)
			errs = append(errs, fmt.Sprintf("%s (%d): %v", name, g.AppID, gameErr))
			metrics.GamesProcessed.WithLabelValues(string(pl.mode), "failed").Inc()
		case outcome == trophy.Synced:
			tracker.IncrementSynced()
			succeeded = append(succeeded, g.AppID)
			metrics.GamesProcessed.WithLabelValues(string(pl.mode), "synced").Inc()
		default:
			tracker.IncrementSkipped()
			if pl.skippedFailed {
				failed = append(failed, g.AppID)
			}
			metrics.GamesProcessed.WithLabelValues(string(pl.mode), "skipped").Inc()
		}

		if pl.checkpoint && (i+1)%s.cfg.CheckpointEvery == 0 {
			// Each game already committed on its own; the checkpoint only
			// verifies the store is still reachable before going on.
			if err := s.db.Ping(); err != nil {
				return nil, &db.StoreError{Op: "checkpoint", Err: err}
			}
			tracker.Checkpoint(fmt.Sprintf("Processed %d/%d games...", i+1, len(games)))
		}
	}

	tracker.SetPhase(progress.PhaseFinalizing, "Finalizing sync...")
	if err := s.db.TouchLastSync(user.ID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("update last sync: %w", err)
	}

	if pl.followUp && s.enqueuer != nil {
		tracker.SetPhase(progress.PhaseFinalizing, "Calculating user statistics...")
		// Fire and forget: the sync never waits on the statistics job.
		if id, err := s.enqueuer.Enqueue(context.WithoutCancel(ctx), stats.Kind, user.ID, nil); err != nil {
			logger.Warn().Err(err).Msg("failed to enqueue statistics job")
		} else {
			logger.Debug().Str("stats_job_id", id).Msg("statistics job enqueued")
		}
	}

	message := pl.done(tracker)
	tracker.Complete(message)

	res := s.result(tracker, pl, message, failed, succeeded, errs)
	logger.Info().
		Int("synced", res.GamesSynced).
		Int("skipped", res.GamesSkipped).
		Int("failed", len(failed)).
		Dur("elapsed", tracker.Elapsed()).
		Msg("sync finished")
	return res, nil
}

func (s *Syncer) resolveUser(userID int64) (*models.User, error) {
	user, err := s.db.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidUser, userID)
	}
	if !user.HasLinkedAccount() {
		return nil, fmt.Errorf("%w: user %d", ErrNoAccount, userID)
	}
	return user, nil
}

// syncGame handles one game: freshness skip, summary upsert, reconciliation
// and completion detection.
func (s *Syncer) syncGame(ctx context.Context, user *models.User, g provider.GameSummary, pl plan) (trophy.Outcome, error) {
	if !pl.force {
		existing, err := s.db.GetGame(user.ID, g.AppID)
		if err != nil {
			return trophy.Skipped, err
		}
		if existing != nil && existing.SyncedWithin(s.now(), s.cfg.FreshnessWindow) && g.Playtime2Weeks == 0 {
			log.Debug().Int64("app_id", g.AppID).Msg("recently synced, skipping")
			return trophy.Skipped, nil
		}
	}

	outcome, game, err := s.reconciler.SyncGameSummary(ctx, user, g)
	if err != nil {
		return trophy.Skipped, err
	}
	if outcome == trophy.Synced && game != nil {
		if d := s.reconciler.Detector(); d != nil {
			d.Detect(ctx, game, user)
		}
	}
	return outcome, nil
}

func (s *Syncer) result(t *progress.Tracker, pl plan, message string, failed, succeeded []int64, errs []string) *progress.Result {
	snap := t.Snapshot()
	if failed == nil {
		failed = []int64{}
	}
	st := map[string]any{
		"duration_seconds":     t.Elapsed().Seconds(),
		"avg_games_per_second": t.Rate(),
	}
	if pl.mode == progress.ModeSpecific {
		if succeeded == nil {
			succeeded = []int64{}
		}
		st["successful_app_ids"] = succeeded
	}
	return &progress.Result{
		Status:       progress.StatusSuccess,
		Message:      message,
		GamesSynced:  snap.GamesSynced,
		GamesSkipped: snap.GamesSkipped,
		FailedGames:  failed,
		TotalGames:   snap.Total,
		Mode:         pl.mode,
		CompletedAt:  s.now().UTC(),
		Stats:        st,
		Errors:       errs,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

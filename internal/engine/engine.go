// Package engine wires the store, the provider, the job queue and the sync
// services together. The CLI, the HTTP server and the MCP server all run on
// an Engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/asteroid-belt/trophysync/internal/api"
	"github.com/asteroid-belt/trophysync/internal/config"
	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/jobs"
	"github.com/asteroid-belt/trophysync/internal/lock"
	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/models"
	"github.com/asteroid-belt/trophysync/internal/provider"
	"github.com/asteroid-belt/trophysync/internal/scheduler"
	"github.com/asteroid-belt/trophysync/internal/stats"
	"github.com/asteroid-belt/trophysync/internal/status"
	"github.com/asteroid-belt/trophysync/internal/supervisor"
	"github.com/asteroid-belt/trophysync/internal/syncer"
	"github.com/asteroid-belt/trophysync/internal/telemetry"
	"github.com/asteroid-belt/trophysync/internal/trophy"
)

// ErrNoAPIKey is returned when no provider was injected and no Steam API
// key is configured.
var ErrNoAPIKey = errors.New("steam api key is not configured (set STEAM_API_KEY)")

// Option customizes an Engine.
type Option func(*Engine)

// WithDB uses an already open store. The engine does not close it.
func WithDB(database *db.DB) Option {
	return func(e *Engine) { e.db = database }
}

// WithProvider replaces the Steam client.
func WithProvider(client provider.Client) Option {
	return func(e *Engine) { e.provider = client }
}

// WithTelemetry sets the usage tracking client.
func WithTelemetry(tc telemetry.Client) Option {
	return func(e *Engine) { e.telemetry = tc }
}

// Engine owns every long-lived component.
type Engine struct {
	cfg       *config.Config
	db        *db.DB
	ownsDB    bool
	provider  provider.Client
	redis     *redis.Client
	telemetry telemetry.Client

	queue  *jobs.Queue
	syncer *syncer.Syncer
	stats  *stats.Calculator
	status *status.Service
}

// New builds an engine from cfg. Call Close when done.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.telemetry == nil {
		e.telemetry = telemetry.Noop()
	}

	if err := e.open(); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) open() error {
	cfg := e.cfg

	if e.db == nil {
		database, err := db.New(db.Config{
			URL:         config.DatabaseURL(cfg),
			Debug:       cfg.Database.Debug,
			MaxIdleConn: cfg.Database.MaxIdleConns,
			MaxOpenConn: cfg.Database.MaxOpenConns,
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		e.db, e.ownsDB = database, true
	}

	if e.provider == nil {
		if cfg.Steam.APIKey == "" {
			return ErrNoAPIKey
		}
		steam := provider.NewSteamClient(provider.SteamConfig{
			APIKey:    cfg.Steam.APIKey,
			BaseURL:   cfg.Steam.BaseURL,
			Timeout:   cfg.Steam.Timeout,
			RateLimit: cfg.Steam.RateLimit,
			CacheTTL:  cfg.Steam.CacheTTL,
		})
		e.provider = provider.NewBreakerClient(steam, provider.BreakerConfig{
			Name:         "steam",
			MaxRequests:  cfg.Steam.BreakerMaxRequests,
			Interval:     cfg.Steam.BreakerInterval,
			Timeout:      cfg.Steam.BreakerTimeout,
			MinRequests:  cfg.Steam.BreakerMinRequests,
			FailureRatio: cfg.Steam.BreakerFailureRatio,
		})
	}

	var (
		store  jobs.Store
		locker lock.Locker
	)
	if cfg.Redis.URL != "" {
		client, err := connectRedis(cfg.Redis.URL)
		if err != nil {
			return err
		}
		e.redis = client
		store = jobs.NewRedisStore(client, cfg.Jobs.ResultTTL)
		locker = lock.NewRedis(client)
	} else {
		store = jobs.NewMemoryStore(cfg.Jobs.ResultTTL)
		locker = lock.NewMemory()
	}

	e.queue = jobs.NewQueue(store, jobs.Options{Workers: cfg.Jobs.Workers, OnFinish: e.jobFinished})

	detector := trophy.NewDetector(e.db)
	detector.OnAward(func(_ *models.User, game *models.Game, _ *models.Notification) {
		e.telemetry.TrackPlatinumEarned(game.TotalAchievements)
	})
	reconciler := trophy.NewReconciler(e.db, e.provider, detector)

	e.syncer = syncer.New(e.db, e.provider, reconciler, locker, e.queue, syncer.ConfigFrom(cfg))
	e.syncer.Register(e.queue)

	e.stats = stats.NewCalculator(e.db)
	e.stats.Register(e.queue, jobs.RetryPolicy{
		MaxRetries: cfg.Jobs.MaxRetries,
		Countdown:  cfg.Jobs.QuickRetryCountdown,
	})

	e.status = status.New(e.queue)
	return nil
}

func connectRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// Close stops accepting jobs and releases the connections the engine opened.
func (e *Engine) Close() error {
	if e.queue != nil {
		e.queue.Close()
	}
	var errs []error
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.ownsDB && e.db != nil {
		errs = append(errs, e.db.Close())
	}
	return errors.Join(errs...)
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// DB returns the store.
func (e *Engine) DB() *db.DB { return e.db }

// Queue returns the job queue.
func (e *Engine) Queue() *jobs.Queue { return e.queue }

// Status returns the job status service.
func (e *Engine) Status() *status.Service { return e.status }

// Stats returns the statistics calculator.
func (e *Engine) Stats() *stats.Calculator { return e.stats }

// StartSync validates the user and enqueues a sync job of kind.
func (e *Engine) StartSync(ctx context.Context, kind string, userID int64, params any) (string, error) {
	switch kind {
	case syncer.KindFull, syncer.KindQuick, syncer.KindSpecific:
	default:
		return "", fmt.Errorf("%w: %s", jobs.ErrUnknownKind, kind)
	}

	user, err := e.db.GetUser(userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("%w: %d", syncer.ErrInvalidUser, userID)
	}
	if !user.HasLinkedAccount() {
		return "", syncer.ErrNoAccount
	}
	return e.queue.Enqueue(ctx, kind, userID, params)
}

// StartStats enqueues the statistics job for a user.
func (e *Engine) StartStats(ctx context.Context, userID int64) (string, error) {
	user, err := e.db.GetUser(userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("%w: %d", stats.ErrUserNotFound, userID)
	}
	return e.queue.Enqueue(ctx, stats.Kind, userID, nil)
}

// Handler returns the HTTP API.
func (e *Engine) Handler() http.Handler {
	return api.NewRouter(api.Deps{
		Syncs:         e,
		Status:        e.status,
		Notifications: e.db,
		Workers:       e.queue.Workers(),
		CORSOrigins:   e.cfg.Server.CORSOrigins,
	})
}

// Tree builds the supervision tree. Without server only the job queue runs;
// with it the scheduler (when enabled) and the HTTP API run too.
func (e *Engine) Tree(server bool) (*supervisor.Tree, error) {
	tree := supervisor.New(log.NewSlogLogger(), supervisor.Config{ShutdownTimeout: e.cfg.Server.ShutdownTimeout})
	tree.AddWorker(e.queue)
	if !server {
		return tree, nil
	}

	if e.cfg.Scheduler.Enabled {
		sched, err := scheduler.New(e.db, e.queue, e.cfg.Scheduler.Spec, e.cfg.Sync.QuickDefaultMax)
		if err != nil {
			return nil, err
		}
		tree.AddWorker(sched)
	}

	srv := &http.Server{
		Addr:              e.cfg.Server.Addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPI(supervisor.NewHTTPService(srv, e.cfg.Server.ShutdownTimeout))
	return tree, nil
}

// Serve runs the queue, the scheduler and the HTTP API until ctx is done.
func (e *Engine) Serve(ctx context.Context) error {
	tree, err := e.Tree(true)
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", e.cfg.Server.Addr).
		Int("workers", e.queue.Workers()).
		Bool("scheduler", e.cfg.Scheduler.Enabled).
		Bool("redis", e.redis != nil).
		Msg("server starting")
	return tree.Serve(ctx)
}

// Start runs the job queue in the background until ctx is done.
func (e *Engine) Start(ctx context.Context) (<-chan error, error) {
	tree, err := e.Tree(false)
	if err != nil {
		return nil, err
	}
	return tree.ServeBackground(ctx), nil
}

func (e *Engine) jobFinished(rec jobs.Record, elapsed time.Duration) {
	var synced, skipped, failed int
	if rec.Result != nil {
		synced = rec.Result.GamesSynced
		skipped = rec.Result.GamesSkipped
		failed = len(rec.Result.FailedGames)
	}
	e.telemetry.TrackSyncJobFinished(rec.Kind, string(rec.State), synced, skipped, failed, elapsed.Milliseconds())
}

// Package scheduler periodically enqueues a quick sync for every user with a
// linked account.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/models"
	"github.com/asteroid-belt/trophysync/internal/syncer"
)

// Scheduler runs the periodic quick sync. It implements suture.Service.
type Scheduler struct {
	db       *db.DB
	enqueuer syncer.Enqueuer
	spec     string
	maxGames int
	now      func() time.Time
}

// New creates a scheduler firing on spec, a standard five-field cron
// expression or a descriptor such as "@every 6h".
func New(database *db.DB, enqueuer syncer.Enqueuer, spec string, maxGames int) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{
		db:       database,
		enqueuer: enqueuer,
		spec:     spec,
		maxGames: maxGames,
		now:      time.Now,
	}, nil
}

// Serve runs the cron loop until ctx is done.
func (s *Scheduler) Serve(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(s.spec, func() { _, _ = s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule quick sync: %w", err)
	}

	c.Start()
	log.Info().Str("spec", s.spec).Msg("scheduler started")
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) String() string { return "scheduler" }

// Tick enqueues one quick sync per linked user and returns the job ids.
// A failure for one user does not stop the others.
func (s *Scheduler) Tick(ctx context.Context) ([]string, error) {
	users, err := s.db.ListLinkedUsers()
	if err != nil {
		log.Error().Err(err).Msg("scheduled sync: list users failed")
		return nil, err
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		id, err := s.enqueuer.Enqueue(ctx, syncer.KindQuick, u.ID, syncer.QuickParams{MaxGames: s.maxGames})
		if err != nil {
			log.Warn().Err(err).Int64("user_id", u.ID).Msg("scheduled sync: enqueue failed")
			continue
		}
		ids = append(ids, id)
	}

	if err := s.db.SetMeta(models.MetaLastScheduled, s.now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn().Err(err).Msg("scheduled sync: record run failed")
	}
	log.Info().Int("users", len(users)).Int("enqueued", len(ids)).Msg("scheduled quick sync")
	return ids, nil
}

// cronLogger adapts cron's logger to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

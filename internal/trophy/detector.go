package trophy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/metrics"
	"github.com/asteroid-belt/trophysync/internal/models"
)

// PlatinumGlobalPercentage is the rarity recorded on completion trophies.
const PlatinumGlobalPercentage = 1.0

// Detector awards the platinum trophy and notification when a game reaches
// 100% completion. It is idempotent per (user, game).
type Detector struct {
	db  *db.DB
	now func() time.Time

	mu        sync.RWMutex
	listeners []func(user *models.User, game *models.Game, n *models.Notification)
}

// NewDetector creates a completion detector.
func NewDetector(database *db.DB) *Detector {
	return &Detector{db: database, now: time.Now}
}

// OnAward registers fn to run after a completion notification is committed.
func (d *Detector) OnAward(fn func(user *models.User, game *models.Game, n *models.Notification)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Detect returns true iff it created a new completion notification. Errors
// are logged and reported as false.
func (d *Detector) Detect(_ context.Context, game *models.Game, user *models.User) bool {
	if game == nil || user == nil || !game.IsCompleted() {
		return false
	}
	logger := log.With().Int64("user_id", user.ID).Int64("app_id", game.AppID).Str("game", game.Name).Logger()

	var created *models.Notification
	err := d.db.Transaction(func(tx *db.DB) error {
		existing, err := tx.FindGameNotification(user.ID, models.NotificationPlatinum, game.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		if err := d.unlockPlatinum(tx, user, game); err != nil {
			return err
		}

		n := models.NewPlatinumNotification(user.ID, game)
		if err := tx.CreateNotification(n); err != nil {
			return err
		}
		created = n
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("platinum detection failed")
		return false
	}
	if created == nil {
		logger.Debug().Msg("platinum already awarded")
		return false
	}

	logger.Info().Str("notification_id", created.ID).Msg("platinum detected")
	metrics.PlatinumsAwarded.Inc()

	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()
	for _, fn := range listeners {
		fn(user, game, created)
	}
	return true
}

// unlockPlatinum creates the synthetic completion achievement, or re-unlocks
// it when a previous completion was lost.
func (d *Detector) unlockPlatinum(tx *db.DB, user *models.User, game *models.Game) error {
	apiName := models.PlatinumAPIName(game.AppID)
	a, err := tx.GetAchievement(user.ID, game.ID, apiName)
	if err != nil {
		return err
	}
	now := d.now().UTC()

	if a == nil {
		icon := game.HeaderImage
		if icon == "" {
			icon = models.HeaderImageURL(game.AppID)
		}
		a = &models.Achievement{
			UserID:           user.ID,
			GameID:           game.ID,
			APIName:          apiName,
			Name:             fmt.Sprintf("%s - Master", game.Name),
			Description:      fmt.Sprintf("Unlock all achievements in %s", game.Name),
			Icon:             icon,
			IconGray:         icon,
			GlobalPercentage: PlatinumGlobalPercentage,
			RarityTier:       models.RarityPlatinum,
			Unlocked:         true,
			UnlockTime:       &now,
		}
		return tx.SaveAchievement(a)
	}

	if a.Unlocked {
		return nil
	}
	a.Unlocked = true
	a.UnlockTime = &now
	return tx.SaveAchievement(a)
}

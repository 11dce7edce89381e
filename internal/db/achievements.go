package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/asteroid-belt/trophysync/internal/models"
)

// GetAchievement retrieves an achievement by (user, game, api name).
// Returns nil, nil when absent.
func (db *DB) GetAchievement(userID, gameID int64, apiName string) (*models.Achievement, error) {
	var a models.Achievement
	err := db.First(&a, "user_id = ? AND game_id = ? AND api_name = ?", userID, gameID, apiName).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeErr("get achievement", err)
	}
	return &a, nil
}

// SaveAchievement inserts the achievement when it has no id, otherwise
// updates every field.
func (db *DB) SaveAchievement(a *models.Achievement) error {
	return storeErr("save achievement", db.Save(a).Error)
}

// ListAchievements returns a game's achievements, unlocked first.
func (db *DB) ListAchievements(gameID int64) ([]models.Achievement, error) {
	var list []models.Achievement
	err := db.Where("game_id = ?", gameID).
		Order("unlocked DESC, unlock_time DESC, id ASC").
		Find(&list).Error
	return list, storeErr("list achievements", err)
}

// CountUnlockedByTier counts a user's unlocked achievements per rarity tier,
// excluding the synthetic platinum trophies.
func (db *DB) CountUnlockedByTier(userID int64) (map[models.RarityTier]int, error) {
	var rows []struct {
		RarityTier models.RarityTier
		Count      int
	}
	err := db.Model(&models.Achievement{}).
		Select("rarity_tier, COUNT(*) AS count").
		Where("user_id = ? AND unlocked = ? AND rarity_tier <> ?", userID, true, models.RarityPlatinum).
		Group("rarity_tier").
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr("count by tier", err)
	}

	counts := map[models.RarityTier]int{
		models.RarityGold:   0,
		models.RaritySilver: 0,
		models.RarityBronze: 0,
	}
	for _, r := range rows {
		counts[r.RarityTier] = r.Count
	}
	return counts, nil
}

// CountUserAchievements returns a user's total and unlocked achievement
// counts, excluding the synthetic platinum trophies.
func (db *DB) CountUserAchievements(userID int64) (total, unlocked int64, err error) {
	base := func() *gorm.DB {
		return db.Model(&models.Achievement{}).
			Where("user_id = ? AND rarity_tier <> ?", userID, models.RarityPlatinum)
	}
	if err = base().Count(&total).Error; err != nil {
		return 0, 0, storeErr("count achievements", err)
	}
	if err = base().Where("unlocked = ?", true).Count(&unlocked).Error; err != nil {
		return 0, 0, storeErr("count achievements", err)
	}
	return total, unlocked, nil
}

// CountUnlockedSince counts achievements unlocked at or after since.
func (db *DB) CountUnlockedSince(userID int64, since time.Time) (int64, error) {
	var n int64
	err := db.Model(&models.Achievement{}).
		Where("user_id = ? AND unlocked = ? AND rarity_tier <> ? AND unlock_time >= ?",
			userID, true, models.RarityPlatinum, since).
		Count(&n).Error
	return n, storeErr("count recent unlocks", err)
}

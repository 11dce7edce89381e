package db

import (
	"errors"

	"gorm.io/gorm"

	"github.com/asteroid-belt/trophysync/internal/models"
)

// GetGame retrieves a game by (user, app id). Returns nil, nil when absent.
func (db *DB) GetGame(userID, appID int64) (*models.Game, error) {
	var game models.Game
	err := db.First(&game, "user_id = ? AND app_id = ?", userID, appID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeErr("get game", err)
	}
	return &game, nil
}

// GetGameByID retrieves a game by primary key. Returns nil, nil when absent.
func (db *DB) GetGameByID(id int64) (*models.Game, error) {
	var game models.Game
	err := db.First(&game, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeErr("get game", err)
	}
	return &game, nil
}

// UpsertGameSummary creates or updates the library fields of a game
// (name, playtime, last played). Counters and sync timestamps are left
// untouched on update. The stored row is returned.
func (db *DB) UpsertGameSummary(in *models.Game) (*models.Game, error) {
	existing, err := db.GetGame(in.UserID, in.AppID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		game := *in
		if game.HeaderImage == "" {
			game.HeaderImage = models.HeaderImageURL(game.AppID)
		}
		if err := db.Create(&game).Error; err != nil {
			return nil, storeErr("create game", err)
		}
		return &game, nil
	}

	existing.Name = in.Name
	existing.PlaytimeForever = in.PlaytimeForever
	existing.Playtime2Weeks = in.Playtime2Weeks
	if in.LastPlayed != nil {
		existing.LastPlayed = in.LastPlayed
	}
	if err := db.Save(existing).Error; err != nil {
		return nil, storeErr("update game", err)
	}
	return existing, nil
}

// SaveGame persists every field of a game.
func (db *DB) SaveGame(game *models.Game) error {
	return storeErr("save game", db.Save(game).Error)
}

// ListGames returns a user's games, most played first.
func (db *DB) ListGames(userID int64) ([]models.Game, error) {
	var games []models.Game
	err := db.Where("user_id = ?", userID).
		Order("playtime_forever DESC").
		Find(&games).Error
	return games, storeErr("list games", err)
}

// CountGamesWithAchievements counts a user's games that have trackable achievements.
func (db *DB) CountGamesWithAchievements(userID int64) (int64, error) {
	var n int64
	err := db.Model(&models.Game{}).
		Where("user_id = ? AND total_achievements > 0", userID).
		Count(&n).Error
	return n, storeErr("count games", err)
}

// CountCompletedGames counts a user's games at 100% completion.
func (db *DB) CountCompletedGames(userID int64) (int64, error) {
	var n int64
	err := db.Model(&models.Game{}).
		Where("user_id = ? AND total_achievements > 0 AND completion_percentage >= ?", userID, 100.0).
		Count(&n).Error
	return n, storeErr("count completed games", err)
}

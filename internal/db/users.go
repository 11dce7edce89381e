package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/asteroid-belt/trophysync/internal/models"
)

// CreateUser inserts a new user.
func (db *DB) CreateUser(user *models.User) error {
	return storeErr("create user", db.Create(user).Error)
}

// GetUser retrieves a user by id. Returns nil, nil when absent.
func (db *DB) GetUser(id int64) (*models.User, error) {
	var user models.User
	err := db.First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeErr("get user", err)
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username. Returns nil, nil when absent.
func (db *DB) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	err := db.First(&user, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeErr("get user", err)
	}
	return &user, nil
}

// ListUsers returns all users ordered by id.
func (db *DB) ListUsers() ([]models.User, error) {
	var users []models.User
	err := db.Order("id ASC").Find(&users).Error
	return users, storeErr("list users", err)
}

// ListLinkedUsers returns users that have a linked provider account.
func (db *DB) ListLinkedUsers() ([]models.User, error) {
	var users []models.User
	err := db.Where("steam_id <> ''").Order("id ASC").Find(&users).Error
	return users, storeErr("list linked users", err)
}

// LinkAccount sets the external account id of a user.
func (db *DB) LinkAccount(userID int64, steamID string) error {
	res := db.Model(&models.User{}).Where("id = ?", userID).Update("steam_id", steamID)
	if res.Error != nil {
		return storeErr("link account", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastSync records when the user's library was last synced.
func (db *DB) TouchLastSync(userID int64, at time.Time) error {
	res := db.Model(&models.User{}).Where("id = ?", userID).Update("last_sync", at)
	if res.Error != nil {
		return storeErr("update last sync", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

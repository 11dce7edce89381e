package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/asteroid-belt/trophysync/internal/models"
)

// CreateNotification inserts a notification, filling in the normal
// priority and display duration when unset.
func (db *DB) CreateNotification(n *models.Notification) error {
	if n.Priority == 0 {
		n.Priority = models.PriorityNormal
	}
	if n.DisplayDuration == 0 {
		n.DisplayDuration = models.DefaultDisplayDuration
	}
	return storeErr("create notification", db.Create(n).Error)
}

// FindGameNotification returns the user's notification of the given type
// for a game, or nil, nil when none exists.
func (db *DB) FindGameNotification(userID int64, typ models.NotificationType, gameID int64) (*models.Notification, error) {
	var n models.Notification
	err := db.Where("user_id = ? AND type = ? AND game_id = ?", userID, typ, gameID).
		First(&n).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeErr("find notification", err)
	}
	return &n, nil
}

// CountGameNotifications counts notifications of a type for (user, game).
func (db *DB) CountGameNotifications(userID int64, typ models.NotificationType, gameID int64) (int64, error) {
	var n int64
	err := db.Model(&models.Notification{}).
		Where("user_id = ? AND type = ? AND game_id = ?", userID, typ, gameID).
		Count(&n).Error
	return n, storeErr("count notifications", err)
}

// ListUnreadNotifications returns the user's undismissed notifications,
// newest first.
func (db *DB) ListUnreadNotifications(userID int64) ([]models.Notification, error) {
	var list []models.Notification
	err := db.Where("user_id = ? AND dismissed_at IS NULL", userID).
		Order("created_at DESC").
		Find(&list).Error
	return list, storeErr("list notifications", err)
}

// CountUnreadNotifications counts the user's undismissed notifications.
func (db *DB) CountUnreadNotifications(userID int64) (int64, error) {
	var n int64
	err := db.Model(&models.Notification{}).
		Where("user_id = ? AND dismissed_at IS NULL", userID).
		Count(&n).Error
	return n, storeErr("count notifications", err)
}

// MarkNotificationRead sets read_at once. Returns the updated notification
// or ErrNotFound when it does not belong to the user.
func (db *DB) MarkNotificationRead(userID int64, id string) (*models.Notification, error) {
	return db.stampNotification(userID, id, "read_at")
}

// MarkNotificationDismissed sets dismissed_at once.
func (db *DB) MarkNotificationDismissed(userID int64, id string) (*models.Notification, error) {
	return db.stampNotification(userID, id, "dismissed_at")
}

// MarkNotificationSent sets sent_at once.
func (db *DB) MarkNotificationSent(userID int64, id string) (*models.Notification, error) {
	return db.stampNotification(userID, id, "sent_at")
}

func (db *DB) stampNotification(userID int64, id, column string) (*models.Notification, error) {
	err := db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND "+column+" IS NULL", id, userID).
		Update(column, time.Now().UTC()).Error
	if err != nil {
		return nil, storeErr("update notification", err)
	}

	var n models.Notification
	err = db.First(&n, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get notification", err)
	}
	return &n, nil
}

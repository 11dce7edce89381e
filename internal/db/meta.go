package db

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/asteroid-belt/trophysync/internal/models"
)

// GetMeta retrieves a metadata value. Missing keys return "".
func (db *DB) GetMeta(key string) (string, error) {
	var meta models.AppMeta
	err := db.First(&meta, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", storeErr("get meta", err)
	}
	return meta.Value, nil
}

// SetMeta sets a metadata value.
func (db *DB) SetMeta(key, value string) error {
	meta := models.AppMeta{Key: key, Value: value}
	return storeErr("set meta", db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&meta).Error)
}

// GetOrCreateTrackingID returns the persistent anonymous telemetry id,
// creating one if it doesn't exist. On any error a per-session id is returned.
func (db *DB) GetOrCreateTrackingID() string {
	id, err := db.GetMeta(models.MetaTrackingID)
	if err != nil {
		return uuid.New().String()
	}
	if id != "" {
		return id
	}

	id = uuid.New().String()
	_ = db.SetMeta(models.MetaTrackingID, id)
	return id
}

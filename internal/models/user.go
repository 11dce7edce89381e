package models

import (
	"strings"
	"time"
)

// User is a local account whose provider library is synchronized.
type User struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Username string `gorm:"size:100;uniqueIndex;not null" json:"username"`

	// SteamID is the linked external account id. Empty means not linked.
	SteamID string `gorm:"size:32;index" json:"steam_id"`

	LastSync  *time.Time `json:"last_sync"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}

// HasLinkedAccount reports whether the user can be synced.
func (u *User) HasLinkedAccount() bool {
	return strings.TrimSpace(u.SteamID) != ""
}

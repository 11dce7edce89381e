package models

import (
	"fmt"
	"time"
)

// Game is one title in a user's library, identified by (user, app id).
type Game struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64 `gorm:"not null;uniqueIndex:idx_games_user_app" json:"user_id"`
	AppID  int64 `gorm:"not null;uniqueIndex:idx_games_user_app" json:"app_id"`

	Name        string `gorm:"size:500" json:"name"`
	HeaderImage string `gorm:"size:500" json:"header_image"`

	// Playtime in minutes, as reported by the provider.
	PlaytimeForever int `gorm:"default:0" json:"playtime_forever"`
	Playtime2Weeks  int `gorm:"default:0" json:"playtime_2weeks"`

	TotalAchievements    int     `gorm:"default:0" json:"total_achievements"`
	UnlockedAchievements int     `gorm:"default:0" json:"unlocked_achievements"`
	CompletionPercentage float64 `gorm:"default:0" json:"completion_percentage"`

	LastPlayed *time.Time `json:"last_played"`
	LastSynced *time.Time `gorm:"index" json:"last_synced"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Game) TableName() string {
	return "games"
}

// SetCounts stores the achievement counters and recomputes the completion
// percentage from them.
func (g *Game) SetCounts(total, unlocked int) {
	g.TotalAchievements = total
	g.UnlockedAchievements = unlocked
	g.CompletionPercentage = CompletionPercentage(total, unlocked)
}

// IsCompleted reports whether every achievement is unlocked.
func (g *Game) IsCompleted() bool {
	return g.CompletionPercentage == 100.0
}

// SyncedWithin reports whether the game was synced less than window ago.
func (g *Game) SyncedWithin(now time.Time, window time.Duration) bool {
	return g.LastSynced != nil && now.Sub(*g.LastSynced) < window
}

// CompletionPercentage returns unlocked/total*100, or 0 when total is 0.
func CompletionPercentage(total, unlocked int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(unlocked) / float64(total) * 100
}

// HeaderImageURL returns the store header image for an app.
func HeaderImageURL(appID int64) string {
	return fmt.Sprintf("https://steamcdn-a.akamaihd.net/steam/apps/%d/header.jpg", appID)
}

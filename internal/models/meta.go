package models

import "time"

// AppMeta stores application metadata as key-value pairs.
type AppMeta struct {
	Key       string    `gorm:"primaryKey;size:100" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (AppMeta) TableName() string {
	return "app_meta"
}

// Common meta keys.
const (
	MetaSchemaVersion = "schema_version"
	MetaTrackingID    = "tracking_id"
	MetaLastScheduled = "last_scheduled_sync"
)

// UserStats is the aggregate computed by the statistics job.
type UserStats struct {
	UserID              int64              `json:"user_id"`
	TrophyCounts        map[RarityTier]int `json:"trophy_counts"`
	TotalGames          int64              `json:"total_games"`
	TotalAchievements   int64              `json:"total_achievements"`
	UnlockedCount       int64              `json:"unlocked_achievements"`
	CompletionRate      float64            `json:"completion_rate"`
	RecentUnlocks30d    int64              `json:"recent_achievements_30d"`
	AchievementVelocity float64            `json:"achievement_velocity"`
	TrophyLevel         int                `json:"trophy_level"`
	CalculatedAt        time.Time          `json:"calculated_at"`
}

// TrophyPoints sums tier points over the counts.
func TrophyPoints(counts map[RarityTier]int) int {
	points := 0
	for tier, n := range counts {
		points += tier.Points() * n
	}
	return points
}

// TrophyLevel converts trophy points to a level (100 points per level).
func TrophyLevel(counts map[RarityTier]int) int {
	return TrophyPoints(counts) / 100
}

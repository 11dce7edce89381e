package models

import (
	"fmt"
	"time"
)

// RarityTier classifies an achievement by how few players unlocked it.
type RarityTier string

const (
	// RarityPlatinum is reserved for the synthetic per-game completion achievement.
	RarityPlatinum RarityTier = "platinum"
	RarityGold     RarityTier = "gold"
	RaritySilver   RarityTier = "silver"
	RarityBronze   RarityTier = "bronze"
)

// Thresholds on global unlock percentage. Upper bounds are exclusive.
const (
	GoldThreshold   = 10.0
	SilverThreshold = 25.0

	// DefaultGlobalPercentage is used when the provider has no figure.
	DefaultGlobalPercentage = 100.0
)

// RarityFromPercentage maps a global unlock percentage to a tier.
// It never returns RarityPlatinum.
func RarityFromPercentage(pct float64) RarityTier {
	switch {
	case pct < GoldThreshold:
		return RarityGold
	case pct < SilverThreshold:
		return RaritySilver
	default:
		return RarityBronze
	}
}

// DisplayName returns the human label for the tier.
func (t RarityTier) DisplayName() string {
	switch t {
	case RarityPlatinum:
		return "Ultra Rare"
	case RarityGold:
		return "Very Rare"
	case RaritySilver:
		return "Rare"
	default:
		return "Common"
	}
}

// Points returns the trophy level points awarded for one trophy of this tier.
func (t RarityTier) Points() int {
	switch t {
	case RarityPlatinum:
		return 300
	case RarityGold:
		return 90
	case RaritySilver:
		return 30
	case RarityBronze:
		return 15
	default:
		return 0
	}
}

// Achievement is one trophy of a game for a user, identified by
// (user, game, api name).
type Achievement struct {
	ID      int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID  int64  `gorm:"not null;uniqueIndex:idx_achievements_user_game_api" json:"user_id"`
	GameID  int64  `gorm:"not null;uniqueIndex:idx_achievements_user_game_api;index" json:"game_id"`
	APIName string `gorm:"size:255;not null;uniqueIndex:idx_achievements_user_game_api" json:"api_name"`

	Name        string `gorm:"size:500" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Icon        string `gorm:"size:500" json:"icon"`
	IconGray    string `gorm:"size:500" json:"icon_gray"`

	Unlocked   bool       `gorm:"default:false;index" json:"unlocked"`
	UnlockTime *time.Time `json:"unlock_time"`

	GlobalPercentage float64    `json:"global_percentage"`
	RarityTier       RarityTier `gorm:"size:20;index" json:"rarity_tier"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Achievement) TableName() string {
	return "achievements"
}

// SetGlobalPercentage stores the percentage and recomputes the tier.
func (a *Achievement) SetGlobalPercentage(pct float64) {
	a.GlobalPercentage = pct
	a.RarityTier = RarityFromPercentage(pct)
}

// ApplyState merges the provider's achieved flag and unlock timestamp
// (unix seconds, 0 when absent). It returns true on a locked to unlocked
// transition.
//
// An already unlocked achievement keeps its unlock time; a lock clears it.
func (a *Achievement) ApplyState(achieved bool, unlockTimestamp int64) bool {
	if !achieved {
		a.Unlocked = false
		a.UnlockTime = nil
		return false
	}

	newly := !a.Unlocked
	if newly || a.UnlockTime == nil {
		a.UnlockTime = unixTime(unlockTimestamp)
	}
	a.Unlocked = true
	return newly
}

// PlatinumAPIName returns the reserved api name of a game's completion trophy.
func PlatinumAPIName(appID int64) string {
	return fmt.Sprintf("PLATINUM_%d", appID)
}

// IsPlatinum reports whether this is the synthetic completion trophy.
func (a *Achievement) IsPlatinum() bool {
	return a.RarityTier == RarityPlatinum
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

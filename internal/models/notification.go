package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType tags what raised a notification.
type NotificationType string

// NotificationPlatinum marks a game completion.
const NotificationPlatinum NotificationType = "platinum_trophy"

// Priority and display hints. The Normal and Default values apply when a
// notification is stored without them.
const (
	PriorityNormal   = 2
	PriorityPlatinum = 3

	DefaultDisplayDuration  = 5000 // ms
	PlatinumDisplayDuration = 8000 // ms
)

// NotificationPayload is the structured data attached to a notification.
type NotificationPayload struct {
	GameID   int64  `json:"game_id"`
	GameName string `json:"game_name"`
	AppID    int64  `json:"steam_app_id"`
}

// Notification is a user-facing message. A platinum notification is unique
// per (user, game); GameID is a real indexed column so that lookup is an
// equality query.
type Notification struct {
	ID     string           `gorm:"primaryKey;size:36" json:"id"`
	UserID int64            `gorm:"not null;index:idx_notifications_user_type_game,priority:1" json:"user_id"`
	Type   NotificationType `gorm:"size:50;not null;index:idx_notifications_user_type_game,priority:2" json:"type"`
	GameID *int64           `gorm:"index:idx_notifications_user_type_game,priority:3" json:"game_id,omitempty"`

	Title   string              `gorm:"size:200" json:"title"`
	Message string              `gorm:"type:text" json:"message"`
	Payload NotificationPayload `gorm:"serializer:json;type:text" json:"data"`

	Priority        int `gorm:"default:2" json:"priority"`
	DisplayDuration int `gorm:"default:5000" json:"display_duration"`

	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// TableName specifies the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// IsRead reports whether the user has read the notification.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// IsDismissed reports whether the user has dismissed the notification.
func (n *Notification) IsDismissed() bool {
	return n.DismissedAt != nil
}

// NewPlatinumNotification builds the completion notification for a game.
func NewPlatinumNotification(userID int64, game *Game) *Notification {
	gameID := game.ID
	return &Notification{
		ID:      uuid.New().String(),
		UserID:  userID,
		Type:    NotificationPlatinum,
		GameID:  &gameID,
		Title:   "Platinum Trophy Earned!",
		Message: fmt.Sprintf("You completed %s 100%% and earned the Platinum Trophy!", game.Name),
		Payload: NotificationPayload{
			GameID:   game.ID,
			GameName: game.Name,
			AppID:    game.AppID,
		},
		Priority:        PriorityPlatinum,
		DisplayDuration: PlatinumDisplayDuration,
	}
}

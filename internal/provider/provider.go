// Package provider defines the achievement provider contract and its
// implementations: the Steam Web API client, a circuit breaker wrapper and
// an in-memory provider.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// GameSummary is one entry of a user's owned-games listing.
type GameSummary struct {
	AppID           int64
	Name            string
	PlaytimeForever int   // minutes
	Playtime2Weeks  int   // minutes
	LastPlayed      int64 // unix seconds, 0 when unknown
}

// AchievementState is a user's progress on one achievement.
type AchievementState struct {
	APIName    string
	Achieved   bool
	UnlockTime int64 // unix seconds, 0 when absent
}

// AchievementDef is one schema entry for a game.
type AchievementDef struct {
	APIName     string
	DisplayName string
	Description string
	Icon        string
	IconGray    string
}

// Client is the achievement provider. Implementations must be safe for
// concurrent use.
//
// An empty result with a nil error means "nothing there". Network failures,
// timeouts and 5xx responses are reported as *TransportError.
type Client interface {
	ListOwnedGames(ctx context.Context, accountID string) ([]GameSummary, error)
	ListUserAchievements(ctx context.Context, accountID string, appID int64) ([]AchievementState, error)
	GetGlobalPercentages(ctx context.Context, appID int64) (map[string]float64, error)
	GetSchema(ctx context.Context, appID int64) ([]AchievementDef, error)
}

// TransportError is a retryable failure talking to the provider.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err wraps a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// APIError is a non-retryable rejection by the provider (bad key, private
// profile, unknown app).
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: status %d", e.Op, e.StatusCode)
}

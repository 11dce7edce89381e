package mcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
)

// resourcePrefix is the URI scheme for trophysync resources.
const resourcePrefix = "trophysync://"

// parseUserURI extracts the user id and the collection from a
// trophysync://user/{id}/{collection} URI.
func parseUserURI(uri string) (userID int64, collection string, err error) {
	if !strings.HasPrefix(uri, resourcePrefix+"user/") {
		return 0, "", fmt.Errorf("invalid URI scheme: %s", uri)
	}

	rest := strings.TrimPrefix(uri, resourcePrefix+"user/")
	idPart, collection, found := strings.Cut(rest, "/")
	if !found || collection == "" {
		return 0, "", fmt.Errorf("missing collection in URI: %s", uri)
	}

	userID, err = strconv.ParseInt(idPart, 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", fmt.Errorf("invalid user id in URI: %s", uri)
	}
	return userID, collection, nil
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// handleNotificationsResource handles trophysync://user/{id}/notifications.
func (s *Server) handleNotificationsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	userID, collection, err := parseUserURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	if collection != "notifications" {
		return nil, fmt.Errorf("unknown resource: %s", req.Params.URI)
	}

	list, err := s.engine.DB().ListUnreadNotifications(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return jsonResource(req.Params.URI, list)
}

// handleGamesResource handles trophysync://user/{id}/games.
func (s *Server) handleGamesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	userID, collection, err := parseUserURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	if collection != "games" {
		return nil, fmt.Errorf("unknown resource: %s", req.Params.URI)
	}

	user, err := s.engine.DB().GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found: %d", userID)
	}

	games, err := s.engine.DB().ListGames(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	return jsonResource(req.Params.URI, games)
}

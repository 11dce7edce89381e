package mcp

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/trophysync/internal/models"
	"github.com/asteroid-belt/trophysync/internal/testutil"
)

func TestParseUserURI(t *testing.T) {
	tests := []struct {
		name           string
		uri            string
		wantID         int64
		wantCollection string
		wantErr        bool
	}{
		{name: "notifications", uri: "trophysync://user/7/notifications", wantID: 7, wantCollection: "notifications"},
		{name: "games", uri: "trophysync://user/12/games", wantID: 12, wantCollection: "games"},
		{name: "invalid scheme", uri: "http://user/7/games", wantErr: true},
		{name: "missing collection", uri: "trophysync://user/7", wantErr: true},
		{name: "non numeric id", uri: "trophysync://user/abc/games", wantErr: true},
		{name: "zero id", uri: "trophysync://user/0/games", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, collection, err := parseUserURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantCollection, collection)
		})
	}
}

func readResource(t *testing.T, contents []mcp.ResourceContents, v any) {
	t.Helper()
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", text.MIMEType)
	require.NoError(t, json.Unmarshal([]byte(text.Text), v))
}

func TestHandleNotificationsResource(t *testing.T) {
	f := setupServer(t)
	database := f.engine.DB()
	user := testutil.CreateUser(t, database, "chell", account)
	game, err := database.UpsertGameSummary(&models.Game{UserID: user.ID, AppID: 620, Name: "Portal 2"})
	require.NoError(t, err)
	require.NoError(t, database.CreateNotification(models.NewPlatinumNotification(user.ID, game)))

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "trophysync://user/1/notifications"
	contents, err := f.server.handleNotificationsResource(context.Background(), req)
	require.NoError(t, err)

	var list []models.Notification
	readResource(t, contents, &list)
	require.Len(t, list, 1)
	assert.Equal(t, models.NotificationPlatinum, list[0].Type)
	assert.Equal(t, "Portal 2", list[0].Payload.GameName)
}

func TestHandleGamesResource(t *testing.T) {
	f := setupServer(t)
	database := f.engine.DB()
	user := testutil.CreateUser(t, database, "chell", account)
	_, err := database.UpsertGameSummary(&models.Game{UserID: user.ID, AppID: 620, Name: "Portal 2", PlaytimeForever: 90})
	require.NoError(t, err)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "trophysync://user/1/games"
	contents, err := f.server.handleGamesResource(context.Background(), req)
	require.NoError(t, err)

	var games []models.Game
	readResource(t, contents, &games)
	require.Len(t, games, 1)
	assert.Equal(t, int64(620), games[0].AppID)

	req.Params.URI = "trophysync://user/99/games"
	_, err = f.server.handleGamesResource(context.Background(), req)
	assert.Error(t, err)

	req.Params.URI = "trophysync://user/1/notifications"
	_, err = f.server.handleGamesResource(context.Background(), req)
	assert.Error(t, err)
}

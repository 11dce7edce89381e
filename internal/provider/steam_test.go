package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSteam(t *testing.T, handler http.HandlerFunc) *SteamClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSteamClient(SteamConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
		RateLimit: 6000,
		CacheTTL:  time.Hour,
	})
}

func TestSteamClient_ListOwnedGames(t *testing.T) {
	client := newTestSteam(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/IPlayerService/GetOwnedGames/v0001/", r.URL.Path)
		assert.Equal(t, "76561197960287930", r.URL.Query().Get("steamid"))
		assert.Equal(t, "1", r.URL.Query().Get("include_appinfo"))
		assert.Equal(t, "1", r.URL.Query().Get("include_played_free_games"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"response":{"game_count":2,"games":[
			{"appid":620,"name":"Portal 2","playtime_forever":1200,"playtime_2weeks":30,"rtime_last_played":1700000000},
			{"appid":400,"name":"Portal","playtime_forever":300}
		]}}`))
	})

	games, err := client.ListOwnedGames(context.Background(), "76561197960287930")
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, GameSummary{AppID: 620, Name: "Portal 2", PlaytimeForever: 1200, Playtime2Weeks: 30, LastPlayed: 1700000000}, games[0])
	assert.Equal(t, int64(0), games[1].LastPlayed)
}

func TestSteamClient_ListUserAchievements(t *testing.T) {
	client := newTestSteam(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "620", r.URL.Query().Get("appid"))
		_, _ = w.Write([]byte(`{"playerstats":{"success":true,"achievements":[
			{"apiname":"ACH_WAKE_UP","achieved":1,"unlocktime":1700000000},
			{"apiname":"ACH_LASER","achieved":0,"unlocktime":0}
		]}}`))
	})

	states, err := client.ListUserAchievements(context.Background(), "1", 620)
	require.NoError(t, err)
	assert.Equal(t, []AchievementState{
		{APIName: "ACH_WAKE_UP", Achieved: true, UnlockTime: 1700000000},
		{APIName: "ACH_LASER", Achieved: false},
	}, states)
}

func TestSteamClient_NoStatsIsEmpty(t *testing.T) {
	client := newTestSteam(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"playerstats":{"error":"Requested app has no stats","success":false}}`))
	})

	states, err := client.ListUserAchievements(context.Background(), "1", 12345)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestSteamClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransport bool
	}{
		{"forbidden is api error", http.StatusForbidden, false},
		{"server error is transport", http.StatusInternalServerError, true},
		{"bad gateway is transport", http.StatusBadGateway, true},
		{"too many requests is transport", http.StatusTooManyRequests, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestSteam(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := client.ListOwnedGames(context.Background(), "1")
			require.Error(t, err)
			assert.Equal(t, tt.wantTransport, IsTransport(err))
			if !tt.wantTransport {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, tt.status, apiErr.StatusCode)
			}
		})
	}
}

func TestSteamClient_NetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewSteamClient(SteamConfig{BaseURL: url, Timeout: time.Second})
	_, err := client.GetSchema(context.Background(), 620)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestSteamClient_GlobalPercentagesAcceptStrings(t *testing.T) {
	client := newTestSteam(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "620", r.URL.Query().Get("gameid"))
		_, _ = w.Write([]byte(`{"achievementpercentages":{"achievements":[
			{"name":"ACH_WAKE_UP","percent":"87.5"},
			{"name":"ACH_LASER","percent":4.2}
		]}}`))
	})

	pct, err := client.GetGlobalPercentages(context.Background(), 620)
	require.NoError(t, err)
	assert.InDelta(t, 87.5, pct["ACH_WAKE_UP"], 0.001)
	assert.InDelta(t, 4.2, pct["ACH_LASER"], 0.001)
}

func TestSteamClient_SchemaIsCached(t *testing.T) {
	hits := 0
	client := newTestSteam(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/ISteamUserStats/GetSchemaForGame/v2/", r.URL.Path)
		_, _ = w.Write([]byte(`{"game":{"gameName":"Portal 2","availableGameStats":{"achievements":[
			{"name":"ACH_WAKE_UP","displayName":"Wake Up Call","description":"Survive the manual","icon":"a.jpg","icongray":"b.jpg"}
		]}}}`))
	})

	for i := 0; i < 3; i++ {
		defs, err := client.GetSchema(context.Background(), 620)
		require.NoError(t, err)
		require.Len(t, defs, 1)
		assert.Equal(t, "Wake Up Call", defs[0].DisplayName)
		assert.Equal(t, "b.jpg", defs[0].IconGray)
	}

	assert.Equal(t, 1, hits)
	requests, cacheHits := client.Stats()
	assert.Equal(t, 1, requests)
	assert.Equal(t, 2, cacheHits)

	client.ClearCache()
	_, err := client.GetSchema(context.Background(), 620)
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}

func TestGameCache(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newGameCache[[]AchievementDef](time.Hour)
	c.now = func() time.Time { return now }

	c.set(620, []AchievementDef{{APIName: "ACH_WAKE_UP"}})
	defs, ok := c.get(620)
	require.True(t, ok)
	assert.Equal(t, "ACH_WAKE_UP", defs[0].APIName)

	_, ok = c.get(440)
	assert.False(t, ok)

	now = now.Add(time.Hour)
	_, ok = c.get(620)
	assert.False(t, ok, "expired at exactly ttl")

	c.set(440, nil)
	assert.Equal(t, 1, c.len(), "expired entries are dropped on set")

	disabled := newGameCache[map[string]float64](0)
	disabled.set(620, map[string]float64{"A": 1})
	_, ok = disabled.get(620)
	assert.False(t, ok)
}

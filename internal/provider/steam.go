package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/asteroid-belt/trophysync/internal/metrics"
	"github.com/asteroid-belt/trophysync/pkg/version"
)

const (
	// DefaultBaseURL is the public Steam Web API host.
	DefaultBaseURL = "https://api.steampowered.com"

	// DefaultTimeout bounds each provider call.
	DefaultTimeout = 10 * time.Second

	// DefaultRateLimit is requests per minute.
	DefaultRateLimit = 60
)

// SteamConfig configures a SteamClient.
type SteamConfig struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit int // requests per minute
	CacheTTL  time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// SteamClient talks to the Steam Web API with rate limiting and caching.
type SteamClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	schemas     *gameCache[[]AchievementDef]
	percentages *gameCache[map[string]float64]

	mu           sync.Mutex
	requestCount int
	cacheHits    int
}

// NewSteamClient creates a Steam client.
func NewSteamClient(cfg SteamConfig) *SteamClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	// rateLimit requests per minute with a burst of the same size
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimit)), cfg.RateLimit)

	return &SteamClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		limiter: limiter,

		schemas:     newGameCache[[]AchievementDef](cfg.CacheTTL),
		percentages: newGameCache[map[string]float64](cfg.CacheTTL),
	}
}

type ownedGamesResponse struct {
	Response struct {
		GameCount int `json:"game_count"`
		Games     []struct {
			AppID           int64  `json:"appid"`
			Name            string `json:"name"`
			PlaytimeForever int    `json:"playtime_forever"`
			Playtime2Weeks  int    `json:"playtime_2weeks"`
			RTimeLastPlayed int64  `json:"rtime_last_played"`
		} `json:"games"`
	} `json:"response"`
}

// ListOwnedGames returns the user's library including free games played.
func (c *SteamClient) ListOwnedGames(ctx context.Context, accountID string) ([]GameSummary, error) {
	q := url.Values{}
	q.Set("steamid", accountID)
	q.Set("include_appinfo", "1")
	q.Set("include_played_free_games", "1")

	var resp ownedGamesResponse
	if err := c.get(ctx, "owned_games", "/IPlayerService/GetOwnedGames/v0001/", q, &resp); err != nil {
		return nil, err
	}

	games := make([]GameSummary, 0, len(resp.Response.Games))
	for _, g := range resp.Response.Games {
		games = append(games, GameSummary{
			AppID:           g.AppID,
			Name:            g.Name,
			PlaytimeForever: g.PlaytimeForever,
			Playtime2Weeks:  g.Playtime2Weeks,
			LastPlayed:      g.RTimeLastPlayed,
		})
	}
	return games, nil
}

type playerAchievementsResponse struct {
	PlayerStats struct {
		Success      bool   `json:"success"`
		Error        string `json:"error"`
		Achievements []struct {
			APIName    string `json:"apiname"`
			Achieved   int    `json:"achieved"`
			UnlockTime int64  `json:"unlocktime"`
		} `json:"achievements"`
	} `json:"playerstats"`
}

// ListUserAchievements returns the user's achievement states for a game.
// A game without stats yields an empty slice.
func (c *SteamClient) ListUserAchievements(ctx context.Context, accountID string, appID int64) ([]AchievementState, error) {
	q := url.Values{}
	q.Set("steamid", accountID)
	q.Set("appid", strconv.FormatInt(appID, 10))

	var resp playerAchievementsResponse
	err := c.get(ctx, "player_achievements", "/ISteamUserStats/GetPlayerAchievements/v0001/", q, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(apiErr.Message), "no stats") {
			return []AchievementState{}, nil
		}
		return nil, err
	}

	states := make([]AchievementState, 0, len(resp.PlayerStats.Achievements))
	for _, a := range resp.PlayerStats.Achievements {
		states = append(states, AchievementState{
			APIName:    a.APIName,
			Achieved:   a.Achieved == 1,
			UnlockTime: a.UnlockTime,
		})
	}
	return states, nil
}

// flexFloat accepts both JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type globalPercentagesResponse struct {
	AchievementPercentages struct {
		Achievements []struct {
			Name    string    `json:"name"`
			Percent flexFloat `json:"percent"`
		} `json:"achievements"`
	} `json:"achievementpercentages"`
}

// GetGlobalPercentages returns the share of players that unlocked each
// achievement, keyed by api name.
func (c *SteamClient) GetGlobalPercentages(ctx context.Context, appID int64) (map[string]float64, error) {
	if cached, ok := c.percentages.get(appID); ok {
		c.cacheHit("global_percentages")
		return cached, nil
	}

	q := url.Values{}
	q.Set("gameid", strconv.FormatInt(appID, 10))

	var resp globalPercentagesResponse
	if err := c.get(ctx, "global_percentages", "/ISteamUserStats/GetGlobalAchievementPercentagesForApp/v0002/", q, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(resp.AchievementPercentages.Achievements))
	for _, a := range resp.AchievementPercentages.Achievements {
		out[a.Name] = float64(a.Percent)
	}
	c.percentages.set(appID, out)
	return out, nil
}

type schemaResponse struct {
	Game struct {
		GameName           string `json:"gameName"`
		AvailableGameStats struct {
			Achievements []struct {
				Name        string `json:"name"`
				DisplayName string `json:"displayName"`
				Description string `json:"description"`
				Icon        string `json:"icon"`
				IconGray    string `json:"icongray"`
			} `json:"achievements"`
		} `json:"availableGameStats"`
	} `json:"game"`
}

// GetSchema returns the achievement definitions of a game.
func (c *SteamClient) GetSchema(ctx context.Context, appID int64) ([]AchievementDef, error) {
	if cached, ok := c.schemas.get(appID); ok {
		c.cacheHit("schema")
		return cached, nil
	}

	q := url.Values{}
	q.Set("appid", strconv.FormatInt(appID, 10))

	var resp schemaResponse
	if err := c.get(ctx, "schema", "/ISteamUserStats/GetSchemaForGame/v2/", q, &resp); err != nil {
		return nil, err
	}

	defs := make([]AchievementDef, 0, len(resp.Game.AvailableGameStats.Achievements))
	for _, a := range resp.Game.AvailableGameStats.Achievements {
		defs = append(defs, AchievementDef{
			APIName:     a.Name,
			DisplayName: a.DisplayName,
			Description: a.Description,
			Icon:        a.Icon,
			IconGray:    a.IconGray,
		})
	}
	c.schemas.set(appID, defs)
	return defs, nil
}

// Stats returns the number of HTTP requests sent and cache hits.
func (c *SteamClient) Stats() (requests, cacheHits int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestCount, c.cacheHits
}

// ClearCache drops cached schemas and global percentages.
func (c *SteamClient) ClearCache() {
	c.schemas.clear()
	c.percentages.clear()
}

func (c *SteamClient) cacheHit(endpoint string) {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
	metrics.ProviderRequests.WithLabelValues(endpoint, "cached").Inc()
}

// get performs a rate limited GET and decodes the JSON body into out.
func (c *SteamClient) get(ctx context.Context, op, path string, q url.Values, out interface{}) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveProviderRequest(op, time.Since(start), err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	c.mu.Lock()
	c.requestCount++
	c.mu.Unlock()

	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("provider %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &TransportError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("provider %s: decode: %w", op, err)
	}
	return nil
}

// errorMessage extracts playerstats.error when present.
func errorMessage(body []byte) string {
	var e struct {
		PlayerStats struct {
			Error string `json:"error"`
		} `json:"playerstats"`
	}
	if json.Unmarshal(body, &e) == nil && e.PlayerStats.Error != "" {
		return e.PlayerStats.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

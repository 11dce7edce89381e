// Package telemetry provides anonymous usage tracking via PostHog.
//
// Events carry counts, durations and categories only. User names, Steam ids
// and game names are never sent.
package telemetry

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
)

// PostHogAPIKey is set at compile time via ldflags.
var PostHogAPIKey string

// EnabledEnv opts out of telemetry when set to "false".
const EnabledEnv = "TROPHYSYNC_TELEMETRY_TRACKING_ENABLED"

// DefaultEndpoint is the PostHog ingestion host.
const DefaultEndpoint = "https://us.i.posthog.com"

// Config selects whether and where events are sent.
type Config struct {
	Enabled bool
	// APIKey defaults to PostHogAPIKey.
	APIKey   string
	Endpoint string
}

func (c Config) apiKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return PostHogAPIKey
}

// Active reports whether events would be sent: enabled in config, not opted
// out through TROPHYSYNC_TELEMETRY_TRACKING_ENABLED, and a key is known.
func (c Config) Active() bool {
	return c.Enabled && os.Getenv(EnabledEnv) != "false" && c.apiKey() != ""
}

// TrackingIDProvider supplies a persistent anonymous id.
type TrackingIDProvider interface {
	GetOrCreateTrackingID() string
}

// Client interface for telemetry operations.
type Client interface {
	Track(event string, properties map[string]interface{})
	Close()
	GetTrackingID() string

	// CLI events
	TrackAppStarted(mode string, linkedUsers int)
	TrackAppExited(mode string, sessionDurationMs int64)
	TrackCLICommandExecuted(commandName string, hasFlags bool, durationMs int64)
	TrackCLIError(commandName, errorType string)
	TrackCLIHelpViewed(commandName string, cliArgs []string)

	// Engine events
	TrackSyncJobFinished(kind, state string, synced, skipped, failed int, durationMs int64)
	TrackPlatinumEarned(totalAchievements int)

	// MCP events
	TrackMCPToolCalled(toolName string, durationMs int64, success bool)
}

// posthogClient wraps the PostHog SDK, which is safe for concurrent use.
type posthogClient struct {
	client     posthog.Client
	trackingID string
}

// noopClient drops every event.
type noopClient struct{}

// New returns a PostHog client when cfg is active, or a noop client. ids
// supplies a persistent tracking id; when nil a random id is used for the
// session.
func New(cfg Config, ids TrackingIDProvider) Client {
	if !cfg.Active() {
		return &noopClient{}
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client, err := posthog.NewWithConfig(cfg.apiKey(), posthog.Config{
		Endpoint:  endpoint,
		BatchSize: 250,
		Interval:  5 * time.Second,
	})
	if err != nil {
		return &noopClient{}
	}

	trackingID := ""
	if ids != nil {
		trackingID = ids.GetOrCreateTrackingID()
	}
	return newPosthogClient(client, trackingID)
}

func newPosthogClient(client posthog.Client, trackingID string) *posthogClient {
	if trackingID == "" {
		trackingID = uuid.New().String()
	}
	return &posthogClient{client: client, trackingID: trackingID}
}

// Noop returns a client that drops every event.
func Noop() Client {
	return &noopClient{}
}

// Track sends an event to PostHog. Person profiles and GeoIP are disabled.
func (c *posthogClient) Track(event string, properties map[string]interface{}) {
	props := posthog.NewProperties()
	props.Set("$process_person_profile", false)
	props.Set("$geoip_disable", true)

	for k, v := range properties {
		props.Set(k, v)
	}

	_ = c.client.Enqueue(posthog.Capture{
		DistinctId: c.trackingID,
		Event:      event,
		Properties: props,
	})
}

// Close flushes remaining events and closes the client.
func (c *posthogClient) Close() {
	_ = c.client.Close()
}

// GetTrackingID returns the anonymous tracking ID.
func (c *posthogClient) GetTrackingID() string {
	return c.trackingID
}

func (c *noopClient) Track(event string, properties map[string]interface{}) {}
func (c *noopClient) Close()                                                  {}
func (c *noopClient) GetTrackingID() string                                   { return "" }

package telemetry

import (
	"runtime"

	"github.com/asteroid-belt/trophysync/pkg/version"
)

// Event names - CLI
const (
	EventAppStarted         = "app_started"
	EventAppExited          = "app_exited"
	EventCLICommandExecuted = "cli_command_executed"
	EventCLIErrorOccurred   = "cli_error_occurred"
	EventCLIHelpViewed      = "cli_help_viewed"
)

// Event names - engine
const (
	EventSyncJobFinished = "sync_job_finished"
	EventPlatinumEarned  = "platinum_earned"
)

// Event names - MCP
const (
	EventMCPToolCalled = "mcp_tool_called"
)

// baseProperties returns common properties for all events.
func baseProperties() map[string]interface{} {
	return map[string]interface{}{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"version":    version.Version,
		"prerelease": version.IsPrerelease(),
		"dev_build":  version.IsDevBuild(),
	}
}

// TrackAppStarted tracks application startup.
func (c *posthogClient) TrackAppStarted(mode string, linkedUsers int) {
	props := baseProperties()
	props["mode"] = mode
	props["linked_users"] = linkedUsers
	c.Track(EventAppStarted, props)
}

// TrackAppExited tracks application exit.
func (c *posthogClient) TrackAppExited(mode string, sessionDurationMs int64) {
	props := baseProperties()
	props["mode"] = mode
	props["session_duration_ms"] = sessionDurationMs
	c.Track(EventAppExited, props)
}

// TrackCLICommandExecuted tracks CLI command execution.
func (c *posthogClient) TrackCLICommandExecuted(commandName string, hasFlags bool, durationMs int64) {
	props := baseProperties()
	props["command_name"] = commandName
	props["has_flags"] = hasFlags
	props["execution_duration_ms"] = durationMs
	c.Track(EventCLICommandExecuted, props)
}

// TrackCLIError tracks CLI errors by category, never by message.
func (c *posthogClient) TrackCLIError(commandName, errorType string) {
	props := baseProperties()
	props["command_name"] = commandName
	props["error_type"] = errorType
	c.Track(EventCLIErrorOccurred, props)
}

// TrackCLIHelpViewed tracks help output.
func (c *posthogClient) TrackCLIHelpViewed(commandName string, cliArgs []string) {
	props := baseProperties()
	props["command_name"] = commandName
	props["arg_count"] = len(cliArgs)
	c.Track(EventCLIHelpViewed, props)
}

// TrackSyncJobFinished tracks the terminal state of a job. No user or game
// identifiers are sent.
func (c *posthogClient) TrackSyncJobFinished(kind, state string, synced, skipped, failed int, durationMs int64) {
	props := baseProperties()
	props["kind"] = kind
	props["state"] = state
	props["games_synced"] = synced
	props["games_skipped"] = skipped
	props["games_failed"] = failed
	props["duration_ms"] = durationMs
	c.Track(EventSyncJobFinished, props)
}

// TrackPlatinumEarned tracks a completion trophy.
func (c *posthogClient) TrackPlatinumEarned(totalAchievements int) {
	props := baseProperties()
	props["total_achievements"] = totalAchievements
	c.Track(EventPlatinumEarned, props)
}

// TrackMCPToolCalled tracks MCP tool usage.
func (c *posthogClient) TrackMCPToolCalled(toolName string, durationMs int64, success bool) {
	props := baseProperties()
	props["tool_name"] = toolName
	props["duration_ms"] = durationMs
	props["success"] = success
	c.Track(EventMCPToolCalled, props)
}

// --- noopClient implementations (no-ops) ---

func (c *noopClient) TrackAppStarted(mode string, linkedUsers int)                                {}
func (c *noopClient) TrackAppExited(mode string, sessionDurationMs int64)                         {}
func (c *noopClient) TrackCLICommandExecuted(commandName string, hasFlags bool, durationMs int64) {}
func (c *noopClient) TrackCLIError(commandName, errorType string)                                 {}
func (c *noopClient) TrackCLIHelpViewed(commandName string, cliArgs []string)                     {}
func (c *noopClient) TrackSyncJobFinished(kind, state string, synced, skipped, failed int, durationMs int64) {
}
func (c *noopClient) TrackPlatinumEarned(totalAchievements int)                          {}
func (c *noopClient) TrackMCPToolCalled(toolName string, durationMs int64, success bool) {}

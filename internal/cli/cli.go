// Package cli provides the command-line interface for trophysync.
package cli

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/asteroid-belt/trophysync/internal/config"
	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/engine"
	"github.com/asteroid-belt/trophysync/internal/telemetry"
	"github.com/asteroid-belt/trophysync/pkg/version"
)

var (
	telemetryClient telemetry.Client
	appConfig       *config.Config
	appDB           *db.DB
)

var commandStartTime time.Time

var rootCmd = &cobra.Command{
	Use:   "trophysync",
	Short: "Steam achievement sync engine",
	Long: `Steam achievement sync engine

Synchronizes Steam game libraries and achievements into a local store,
assigns rarity tiers and awards a Platinum Trophy for every game completed
at 100%.

Run 'trophysync serve' for the HTTP API, or sync a user directly with
'trophysync sync full <user-id>'.

Telemetry:
  Telemetry is enabled by default, always anonymous, and will never track
  personal information, Steam ids or IP addresses.

  Opt-out with:
  	TROPHYSYNC_TELEMETRY_TRACKING_ENABLED=false`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		commandStartTime = time.Now()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		durationMs := time.Since(commandStartTime).Milliseconds()
		hasFlags := cmd.Flags().NFlag() > 0
		telemetryClient.TrackCLICommandExecuted(cmd.CommandPath(), hasFlags, durationMs)

		if cmd.Flags().Changed("help") {
			telemetryClient.TrackCLIHelpViewed(cmd.Name(), os.Args[1:])
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI with fang enhancements. database stays owned by the
// caller.
func Execute(ctx context.Context, cfg *config.Config, database *db.DB, tc telemetry.Client) error {
	if tc == nil {
		tc = telemetry.Noop()
	}
	telemetryClient = tc
	appConfig = cfg
	appDB = database

	err := fang.Execute(
		ctx,
		rootCmd,
		fang.WithVersion(version.Short()),
		fang.WithCommit(version.Commit),
	)

	if rootCmd.CalledAs() != "" {
		telemetryClient.TrackAppExited("cli", time.Since(commandStartTime).Milliseconds())
	}

	return err
}

// newEngine builds an engine on the shared database.
func newEngine() (*engine.Engine, error) {
	return engine.New(appConfig, engine.WithDB(appDB), engine.WithTelemetry(telemetryClient))
}

// trackCLIError wraps an error with telemetry tracking.
// Call this before returning errors from CLI commands.
func trackCLIError(cmdName string, err error) error {
	if err == nil {
		return nil
	}
	errorType := classifyError(err)
	telemetryClient.TrackCLIError(cmdName, errorType)
	return err
}

// classifyError determines the error type for telemetry.
func classifyError(err error) string {
	errStr := err.Error()
	switch {
	case containsAny(errStr, "config", "configuration", "api key"):
		return "config_error"
	case containsAny(errStr, "database", "db", "store"):
		return "database_error"
	case containsAny(errStr, "network", "timeout", "connection"):
		return "network_error"
	case containsAny(errStr, "permission", "access denied"):
		return "permission_error"
	case containsAny(errStr, "not found", "does not exist"):
		return "not_found_error"
	case containsAny(errStr, "already running"):
		return "conflict_error"
	case containsAny(errStr, "invalid", "parse", "format"):
		return "validation_error"
	default:
		return "unknown_error"
	}
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/trophysync/internal/log"
)

var (
	serveAddr      string
	serveLogFormat string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the job workers and the scheduler",
	Long: `Run the sync server until interrupted.

The server exposes the JSON API under /api, Prometheus metrics on /metrics
and a health check on /healthz. Periodic quick syncs run when
scheduler.enabled is set. With REDIS_URL set, job status and per-user
locks live in Redis.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "json", "Log format: json or console")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		appConfig.Server.Addr = serveAddr
	}
	log.Init(log.Config{
		Level:  appConfig.Log.Level,
		Format: serveLogFormat,
		Output: os.Stderr,
	})

	eng, err := newEngine()
	if err != nil {
		return trackCLIError("serve", err)
	}
	defer func() { _ = eng.Close() }()

	linked, err := appDB.ListLinkedUsers()
	if err != nil {
		return trackCLIError("serve", err)
	}
	telemetryClient.TrackAppStarted("server", len(linked))
	started := time.Now()

	err = eng.Serve(cmd.Context())
	telemetryClient.TrackAppExited("server", time.Since(started).Milliseconds())
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("server stopped")
		return nil
	}
	return trackCLIError("serve", err)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/trophysync/internal/jobs"
	"github.com/asteroid-belt/trophysync/internal/progress"
	"github.com/asteroid-belt/trophysync/internal/syncer"
)

const pollInterval = 200 * time.Millisecond

var (
	syncForce    bool
	syncMaxGames int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize a user's Steam achievements",
	Long: `Run a sync job in this process and show its progress.

Modes:
  full       every owned game, most played first
  quick      the most recently played games
  specific   the given app ids only

Requires STEAM_API_KEY.`,
}

var syncFullCmd = &cobra.Command{
	Use:   "full <user-id>",
	Short: "Sync every owned game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return trackCLIError("sync full", err)
		}
		return runSync(cmd.Context(), "sync full", syncer.KindFull, userID, syncer.FullParams{ForceRefresh: syncForce})
	},
}

var syncQuickCmd = &cobra.Command{
	Use:   "quick <user-id>",
	Short: "Sync the most recently played games",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return trackCLIError("sync quick", err)
		}
		if syncMaxGames < 0 {
			return trackCLIError("sync quick", fmt.Errorf("invalid --max-games %d", syncMaxGames))
		}
		params := syncer.QuickParams{MaxGames: syncMaxGames, ForceRefresh: syncForce}
		return runSync(cmd.Context(), "sync quick", syncer.KindQuick, userID, params)
	},
}

var syncSpecificCmd = &cobra.Command{
	Use:   "specific <user-id> <app-id>...",
	Short: "Sync the given games",
	Example: `  # Portal 2 and Team Fortress 2
  trophysync sync specific 1 620 440`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return trackCLIError("sync specific", err)
		}
		appIDs, err := parseAppIDs(args[1:])
		if err != nil {
			return trackCLIError("sync specific", err)
		}
		return runSync(cmd.Context(), "sync specific", syncer.KindSpecific, userID, syncer.SpecificParams{AppIDs: appIDs})
	},
}

func init() {
	syncFullCmd.Flags().BoolVar(&syncForce, "force", false, "Refresh games synced recently")
	syncQuickCmd.Flags().BoolVar(&syncForce, "force", false, "Refresh games synced recently")
	syncQuickCmd.Flags().IntVar(&syncMaxGames, "max-games", 0, "Number of games to sync (default from config)")

	syncCmd.AddCommand(syncFullCmd)
	syncCmd.AddCommand(syncQuickCmd)
	syncCmd.AddCommand(syncSpecificCmd)
}

func parseAppIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid app id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// runSync starts the job queue, enqueues one sync and renders its progress
// until it finishes.
func runSync(ctx context.Context, cmdName, kind string, userID int64, params any) error {
	eng, err := newEngine()
	if err != nil {
		return trackCLIError(cmdName, err)
	}
	defer func() { _ = eng.Close() }()

	runCtx, cancel := context.WithCancel(ctx)
	errCh, err := eng.Start(runCtx)
	if err != nil {
		cancel()
		return trackCLIError(cmdName, err)
	}
	defer func() {
		cancel()
		<-errCh
	}()

	id, err := eng.StartSync(runCtx, kind, userID, params)
	if err != nil {
		return trackCLIError(cmdName, err)
	}
	fmt.Printf("🔄 Syncing user %d (job %s)\n\n", userID, id)

	bar := NewProgressBar(0, 20)
	rec, err := eng.Queue().Wait(runCtx, id, pollInterval, func(r *jobs.Record) {
		if r.Progress == nil || r.Progress.Total == 0 {
			return
		}
		bar.SetTotal(r.Progress.Total)
		bar.Update(r.Progress.Current, r.Progress.CurrentGame)
		ClearLine()
		fmt.Print("   " + bar.Render())
	})
	ClearLine()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("   ⚠️  Interrupted")
		}
		return trackCLIError(cmdName, err)
	}

	return trackCLIError(cmdName, printOutcome(rec))
}

func printOutcome(rec *jobs.Record) error {
	fmt.Printf("   %s\n", RenderState(rec.State))
	if rec.State != jobs.StateSuccess || rec.Result == nil {
		if rec.Error != "" {
			return errors.New(rec.Error)
		}
		return fmt.Errorf("job %s ended in state %s", rec.ID, rec.State)
	}

	res := rec.Result
	fmt.Printf("   ✓ %s\n\n", res.Message)
	fmt.Printf("   Synced:  %d\n", res.GamesSynced)
	fmt.Printf("   Skipped: %d\n", res.GamesSkipped)
	fmt.Printf("   Failed:  %d\n", len(res.FailedGames))
	if len(res.FailedGames) > 0 {
		fmt.Printf("   Failed app ids: %v\n", res.FailedGames)
	}
	if res.Mode == progress.ModeFull {
		fmt.Println("\n   Run 'trophysync stats <user-id>' for updated statistics.")
	}
	return nil
}

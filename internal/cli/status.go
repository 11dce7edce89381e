package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/asteroid-belt/trophysync/internal/api"
	"github.com/asteroid-belt/trophysync/internal/status"
	"github.com/asteroid-belt/trophysync/pkg/version"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the progress of a job on a running server",
	Long: `Ask a running 'trophysync serve' for the summary of a job:
state, percentage, elapsed time and an ETA.

Examples:
  trophysync status 3f0c1a52-9a1e-4c2b-9d57-0f6b1c2f8e11
  trophysync status 3f0c1a52-... --server http://sync.internal:8080`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "Base URL of the trophysync server")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	sum, err := fetchSummary(ctx, http.DefaultClient, statusServer, args[0])
	if err != nil {
		return trackCLIError("status", err)
	}
	printSummary(sum)
	return nil
}

// fetchSummary reads /api/tasks/{id}/summary from server.
func fetchSummary(ctx context.Context, client *http.Client, server, jobID string) (*status.Summary, error) {
	endpoint := strings.TrimRight(server, "/") + "/api/tasks/" + url.PathEscape(jobID) + "/summary"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection to %s failed: %w", server, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var sum status.Summary
	if err := json.Unmarshal(body, &sum); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	return &sum, nil
}

func printSummary(sum *status.Summary) {
	fmt.Printf("Job %s  %s\n", sum.JobID, RenderState(sum.State))
	fmt.Println("──────────────────────────────────────────────────")
	if sum.Status != "" {
		fmt.Printf("  %s\n", sum.Status)
	}
	if sum.TotalGames > 0 {
		bar := NewProgressBar(100, 20)
		bar.Update(int(sum.Percentage), fmt.Sprintf("%.1f%%", sum.Percentage))
		fmt.Printf("  %s\n", bar.Render())
	}
	if sum.Mode != "" {
		fmt.Printf("  Mode:     %s\n", sum.Mode)
	}
	if sum.Phase != "" {
		fmt.Printf("  Phase:    %s\n", sum.Phase)
	}
	fmt.Printf("  Synced:   %d / %d (skipped %d)\n", sum.GamesSynced, sum.TotalGames, sum.GamesSkipped)
	if sum.Duration != "" {
		fmt.Printf("  Elapsed:  %s\n", sum.Duration)
	}
	if sum.ETA != "" {
		fmt.Printf("  ETA:      %s\n", sum.ETA)
	}
}

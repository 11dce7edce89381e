package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/asteroid-belt/trophysync/internal/models"
	"github.com/asteroid-belt/trophysync/internal/stats"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats <user-id>",
	Short: "Show trophy statistics for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the statistics as JSON")
}

var tierOrder = []models.RarityTier{
	models.RarityPlatinum,
	models.RarityGold,
	models.RaritySilver,
	models.RarityBronze,
}

func runStats(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return trackCLIError("stats", err)
	}

	st, err := stats.NewCalculator(appDB).Compute(cmd.Context(), userID)
	if err != nil {
		if errors.Is(err, stats.ErrUserNotFound) {
			return trackCLIError("stats", fmt.Errorf("user %d not found", userID))
		}
		return trackCLIError("stats", err)
	}

	if statsJSON {
		data, err := json.MarshalIndent(stats.AsMap(st), "", "  ")
		if err != nil {
			return trackCLIError("stats", err)
		}
		fmt.Println(string(data))
		return nil
	}

	level := lipgloss.NewStyle().Foreground(statsColor).Bold(true)
	fmt.Printf("Trophy level %s\n", level.Render(fmt.Sprint(st.TrophyLevel)))
	fmt.Println("──────────────────────────────────────────────────")
	for _, tier := range tierOrder {
		fmt.Printf("  %-9s %-11s %d\n", tier, "("+tier.DisplayName()+")", st.TrophyCounts[tier])
	}
	fmt.Println()
	fmt.Printf("  Games with achievements: %d\n", st.TotalGames)
	fmt.Printf("  Achievements unlocked:   %d / %d (%.2f%%)\n", st.UnlockedCount, st.TotalAchievements, st.CompletionRate)
	fmt.Printf("  Unlocked last 30 days:   %d\n", st.RecentUnlocks30d)
	fmt.Printf("  Velocity:                %.2f / day\n", st.AchievementVelocity)
	return nil
}

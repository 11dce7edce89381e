package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/models"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage local users and their linked Steam accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username> [steam-id]",
	Short: "Create a user, optionally linked to a Steam account",
	Long: `Create a local user. The Steam id is the 64-bit account id
(17 digits, e.g. 76561197960287930). A user without a linked account
cannot be synced until 'trophysync user link' is run.

Examples:
  trophysync user add gordon
  trophysync user add gordon 76561197960287930`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runUserAdd,
}

var userLinkCmd = &cobra.Command{
	Use:   "link <user-id> <steam-id>",
	Short: "Link a user to a Steam account",
	Args:  cobra.ExactArgs(2),
	RunE:  runUserLink,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users and their last sync time",
	Args:  cobra.NoArgs,
	RunE:  runUserList,
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userLinkCmd)
	userCmd.AddCommand(userListCmd)
}

// parseSteamID accepts a 64-bit Steam id in decimal form.
func parseSteamID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) != 17 {
		return "", fmt.Errorf("invalid steam id %q: expected 17 digits", s)
	}
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return "", fmt.Errorf("invalid steam id %q: %w", s, err)
	}
	return s, nil
}

// parseUserID parses a positive user id argument.
func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	user := &models.User{Username: strings.TrimSpace(args[0])}
	if user.Username == "" {
		return trackCLIError("user add", errors.New("invalid username: empty"))
	}
	if len(args) == 2 {
		steamID, err := parseSteamID(args[1])
		if err != nil {
			return trackCLIError("user add", err)
		}
		user.SteamID = steamID
	}

	existing, err := appDB.GetUserByUsername(user.Username)
	if err != nil {
		return trackCLIError("user add", err)
	}
	if existing != nil {
		return trackCLIError("user add", fmt.Errorf("user %q already exists (id %d)", user.Username, existing.ID))
	}

	if err := appDB.CreateUser(user); err != nil {
		return trackCLIError("user add", err)
	}

	fmt.Printf("✓ Created user %s (id %d)\n", user.Username, user.ID)
	if !user.HasLinkedAccount() {
		fmt.Printf("\nLink a Steam account with: trophysync user link %d <steam-id>\n", user.ID)
	}
	return nil
}

func runUserLink(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return trackCLIError("user link", err)
	}
	steamID, err := parseSteamID(args[1])
	if err != nil {
		return trackCLIError("user link", err)
	}

	if err := appDB.LinkAccount(userID, steamID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return trackCLIError("user link", fmt.Errorf("user %d not found", userID))
		}
		return trackCLIError("user link", err)
	}

	fmt.Printf("✓ Linked user %d to Steam account %s\n", userID, steamID)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	users, err := appDB.ListUsers()
	if err != nil {
		return trackCLIError("user list", err)
	}

	if len(users) == 0 {
		fmt.Println("No users yet.")
		fmt.Println("\nUse 'trophysync user add <username> <steam-id>' to create one.")
		return nil
	}

	fmt.Printf("USERS (%d)\n", len(users))
	fmt.Println("──────────────────────────────────────────────────")
	for _, u := range users {
		steam := u.SteamID
		if !u.HasLinkedAccount() {
			steam = "not linked"
		}
		lastSync := "never"
		if u.LastSync != nil {
			lastSync = u.LastSync.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("  %-4d %-20s %-20s last sync: %s\n", u.ID, u.Username, steam, lastSync)
	}
	return nil
}

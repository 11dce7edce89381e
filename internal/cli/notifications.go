package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/trophysync/internal/models"
)

var (
	notificationsUser     int64
	notificationsMarkRead bool
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List unread notifications",
	Long: `List unread, undismissed notifications, newest first.
Without --user, notifications of every user are listed.

Examples:
  trophysync notifications
  trophysync notifications --user 1 --mark-read`,
	Args: cobra.NoArgs,
	RunE: runNotifications,
}

func init() {
	notificationsCmd.Flags().Int64Var(&notificationsUser, "user", 0, "Only this user id")
	notificationsCmd.Flags().BoolVar(&notificationsMarkRead, "mark-read", false, "Mark the listed notifications as read")
}

func runNotifications(cmd *cobra.Command, args []string) error {
	var users []models.User
	if notificationsUser != 0 {
		u, err := appDB.GetUser(notificationsUser)
		if err != nil {
			return trackCLIError("notifications", err)
		}
		if u == nil {
			return trackCLIError("notifications", fmt.Errorf("user %d not found", notificationsUser))
		}
		users = append(users, *u)
	} else {
		var err error
		if users, err = appDB.ListUsers(); err != nil {
			return trackCLIError("notifications", err)
		}
	}

	total := 0
	for _, u := range users {
		list, err := appDB.ListUnreadNotifications(u.ID)
		if err != nil {
			return trackCLIError("notifications", err)
		}
		if len(list) == 0 {
			continue
		}
		total += len(list)

		fmt.Printf("%s (%d unread)\n", u.Username, len(list))
		fmt.Println("──────────────────────────────────────────────────")
		for _, n := range list {
			icon := "🔔"
			if n.Type == models.NotificationPlatinum {
				icon = "🏆"
			}
			fmt.Printf("  %s %s  %s\n", icon, n.Title, n.CreatedAt.Local().Format("2006-01-02 15:04"))
			fmt.Printf("     %s\n", n.Message)

			if notificationsMarkRead {
				if _, err := appDB.MarkNotificationRead(u.ID, n.ID); err != nil {
					return trackCLIError("notifications", err)
				}
			}
		}
		fmt.Println()
	}

	if total == 0 {
		fmt.Println("No unread notifications.")
	} else if notificationsMarkRead {
		fmt.Printf("✓ Marked %d notification(s) as read\n", total)
	}
	return nil
}

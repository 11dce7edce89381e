package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/trophysync/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Full())
		if version.IsDevBuild() {
			fmt.Println("\nDevelopment build")
		} else if version.IsPrerelease() {
			fmt.Println("\nPre-release build")
		}
	},
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X github.com/hevelius/hevelius/cmd.Version=..."
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hevelius version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("hevelius " + Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

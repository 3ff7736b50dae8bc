package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "erp-realtime",
	Short: "Realtime event distribution for the ERP",
	Long: `erp-realtime pushes notifications, order status changes and
inventory updates to connected users over WebSocket, with a long-polling
fallback for clients that cannot upgrade.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "erp-realtime %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a random value for server.auth_token",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := config.GenerateToken()
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"erp-realtime version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(tokenCmd)
}

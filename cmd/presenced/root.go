package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "presenced",
	Short: "Presenced - daily presence tracking with unavailability reporting",
	Long: `Presenced polls the availability of a configured set of users during a
daily tracking window, persists their unavailability intervals, and sends
escalating notifications. Companion subcommands aggregate the persisted
data into trailing-window reports and per-session timeline layouts.`,
	Version: version,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the track command when no subcommand is provided
		return runTrack(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/presenced/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

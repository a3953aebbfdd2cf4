package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/presenced/internal/report"
	"github.com/goodtune/presenced/internal/tracker"
)

var reportDays int

var reportCmd = &cobra.Command{
	Use:   "report [config]",
	Short: "Aggregate unavailability statistics into a CSV report",
	Long: `Report aggregates the persisted unavailability intervals of the trailing
window into per-user statistics, prints them, and writes a CSV file named
after the covered date range.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 0, "Report window in days (overrides report.days)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	log.Logger = logger

	days := cfg.Report.Days
	if reportDays > 0 {
		days = reportDays
	}

	store, err := openStore(cfg.Storage, true)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	aggregator := report.NewAggregator(store, tracker.RealClock{}, logger)
	rows, span, err := aggregator.Aggregate(cmd.Context(), days)
	if err != nil {
		return fmt.Errorf("aggregate report: %w", err)
	}

	if span.Earliest.IsZero() {
		color.Yellow("No sessions recorded in the last %d days", days)
		return nil
	}

	report.PrintTable(rows)

	path, err := report.WriteCSV(rows, span, cfg.Report.OutputDir)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	color.Green("Report written to %s", path)
	return nil
}

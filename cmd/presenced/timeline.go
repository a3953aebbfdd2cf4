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

var timelineDays int

var timelineCmd = &cobra.Command{
	Use:   "timeline [config]",
	Short: "Lay out per-session unavailability timelines",
	Long: `Timeline converts each session of the trailing window into a normalized
layout, one lane per user with fractional segment positions, and writes
the result as a JSON artifact for rendering.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTimeline,
}

func init() {
	timelineCmd.Flags().IntVar(&timelineDays, "days", 0, "Timeline window in days (overrides report.days)")
	rootCmd.AddCommand(timelineCmd)
}

func runTimeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	log.Logger = logger

	days := cfg.Report.Days
	if timelineDays > 0 {
		days = timelineDays
	}

	store, err := openStore(cfg.Storage, true)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	builder := report.NewTimelineBuilder(store, tracker.RealClock{}, logger)
	timelines, err := builder.Build(cmd.Context(), days)
	if err != nil {
		return fmt.Errorf("build timeline: %w", err)
	}

	if len(timelines) == 0 {
		color.Yellow("No sessions recorded in the last %d days", days)
		return nil
	}

	report.PrintTimelineSummary(timelines)

	path, err := report.WriteTimelineJSON(timelines, cfg.Timeline.OutputDir)
	if err != nil {
		return fmt.Errorf("write timeline: %w", err)
	}

	color.Green("Timeline written to %s", path)
	return nil
}

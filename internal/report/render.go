package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/goodtune/presenced/internal/storage"
)

var csvHeader = []string{
	"User Name",
	"User Email",
	"Unavailability Percentage",
	"Unavailability Minutes Daily Average",
	"Unavailability Minutes Total",
	"Go Unavailable Daily Frequency",
	"Go Unavailable Total",
}

// WriteCSV writes the report rows to `<earliest>-<latest>_presence_report.csv`
// in outputDir and returns the file path.
func WriteCSV(rows []Row, span Range, outputDir string) (string, error) {
	if err := storage.EnsureDir(outputDir); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s_presence_report.csv",
		span.Earliest.Format("2006-01-02"), span.Latest.Format("2006-01-02"))
	path := filepath.Join(outputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write report header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.User.DisplayName,
			row.User.Mail,
			fmt.Sprintf("%.2f", row.UnavailabilityPercentage),
			fmt.Sprintf("%d", int(math.Round(row.UnavailabilityMinutesDailyAverage))),
			fmt.Sprintf("%d", int(math.Round(row.UnavailabilityMinutesTotal))),
			fmt.Sprintf("%.2f", row.GoUnavailableDailyFrequency),
			fmt.Sprintf("%d", row.GoUnavailableTotal),
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write report row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush report: %w", err)
	}
	return path, nil
}

// WriteTimelineJSON writes the timeline layout to
// `<earliest>_to_<latest>_timeline.json` in outputDir and returns the
// file path.
func WriteTimelineJSON(timelines []SessionTimeline, outputDir string) (string, error) {
	if err := storage.EnsureDir(outputDir); err != nil {
		return "", fmt.Errorf("create timeline directory: %w", err)
	}

	name := "timeline.json"
	if len(timelines) > 0 {
		earliest := timelines[len(timelines)-1].Start
		latest := timelines[0].End
		name = fmt.Sprintf("%s_to_%s_timeline.json",
			earliest.Format("2006-01-02"), latest.Format("2006-01-02"))
	}
	path := filepath.Join(outputDir, name)

	data, err := json.MarshalIndent(timelines, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode timeline: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write timeline file: %w", err)
	}
	return path, nil
}

// PrintTable prints the report rows to stdout as a colored table. Rows
// with high unavailability are highlighted.
func PrintTable(rows []Row) {
	header := color.New(color.FgCyan, color.Bold)
	header.Printf("%-30s %-35s %8s %10s %10s %8s %7s\n",
		"Name", "Email", "Pct", "Avg min/d", "Total min", "Freq/d", "Total")

	for _, row := range rows {
		c := color.New(color.FgGreen)
		switch {
		case row.UnavailabilityPercentage >= 50:
			c = color.New(color.FgRed)
		case row.UnavailabilityPercentage >= 25:
			c = color.New(color.FgYellow)
		}

		c.Printf("%-30s %-35s %7.2f%% %10.0f %10.0f %8.2f %7d\n",
			row.User.DisplayName,
			row.User.Mail,
			row.UnavailabilityPercentage,
			row.UnavailabilityMinutesDailyAverage,
			row.UnavailabilityMinutesTotal,
			row.GoUnavailableDailyFrequency,
			row.GoUnavailableTotal,
		)
	}
}

// PrintTimelineSummary prints a one-line summary per session.
func PrintTimelineSummary(timelines []SessionTimeline) {
	header := color.New(color.FgCyan, color.Bold)
	header.Printf("%-10s %-20s %-20s %10s %6s\n", "Session", "Start", "End", "Duration", "Lanes")

	for _, tl := range timelines {
		fmt.Printf("%-10d %-20s %-20s %10s %6d\n",
			tl.SessionID,
			tl.Start.Format("2006-01-02 15:04"),
			tl.End.Format("2006-01-02 15:04"),
			tl.Duration.Round(time.Second),
			len(tl.Rows),
		)
	}
}

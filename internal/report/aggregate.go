// Package report builds trailing-window unavailability statistics and
// per-session timeline layouts from persisted tracking data.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/presenced/internal/storage"
	"github.com/goodtune/presenced/internal/tracker"
)

// Row is one user's aggregated unavailability over the report window.
type Row struct {
	User storage.User

	UnavailabilityPercentage          float64
	UnavailabilityMinutesTotal        float64
	UnavailabilityMinutesDailyAverage float64
	GoUnavailableTotal                int
	GoUnavailableDailyFrequency       float64
}

// Range is the span of session data the report actually covers.
type Range struct {
	Earliest time.Time
	Latest   time.Time
}

// Aggregator computes report rows from the store. Aggregation only reads,
// so it can run against a live tracking database.
type Aggregator struct {
	store  storage.Store
	clock  tracker.Clock
	logger zerolog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(store storage.Store, clock tracker.Clock, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		clock:  clock,
		logger: logger.With().Str("component", "report").Logger(),
	}
}

// Aggregate builds one row per known user from the sessions of the last
// `days` days. Users without any unavailability still get a row, with zero
// statistics. Rows are ordered by unavailability percentage descending,
// then by mail.
func (a *Aggregator) Aggregate(ctx context.Context, days int) ([]Row, Range, error) {
	now := a.clock.Now()
	cutoff := now.AddDate(0, 0, -days)

	sessions, err := a.store.Sessions().ListStartedSince(ctx, cutoff)
	if err != nil {
		return nil, Range{}, fmt.Errorf("list sessions: %w", err)
	}
	users, err := a.store.Users().List(ctx)
	if err != nil {
		return nil, Range{}, fmt.Errorf("list users: %w", err)
	}

	var (
		span                Range
		totalTracked        time.Duration
		trackingDays        = make(map[string]struct{})
		unavailableByUser   = make(map[string]time.Duration)
		intervalCountByUser = make(map[string]int)
	)

	for _, session := range sessions {
		sessionEnd := sessionEndOrNow(session, now)

		tracked := clip(session.StartTime, sessionEnd, cutoff, now)
		if tracked <= 0 {
			continue
		}
		totalTracked += tracked
		trackingDays[session.StartTime.Format("2006-01-02")] = struct{}{}

		if span.Earliest.IsZero() || session.StartTime.Before(span.Earliest) {
			span.Earliest = session.StartTime
		}
		if sessionEnd.After(span.Latest) {
			span.Latest = sessionEnd
		}

		intervals, err := a.store.Intervals().ListBySession(ctx, session.ID)
		if err != nil {
			return nil, Range{}, fmt.Errorf("list intervals of session %d: %w", session.ID, err)
		}
		for _, iv := range intervals {
			intervalCountByUser[iv.UserID]++

			end := sessionEnd
			if iv.EndTime != nil {
				end = *iv.EndTime
			}
			unavailableByUser[iv.UserID] += clip(iv.StartTime, end, cutoff, now)
		}
	}

	rows := make([]Row, 0, len(users))
	for _, user := range users {
		unavailable := unavailableByUser[user.ID]
		row := Row{
			User:                       user,
			UnavailabilityMinutesTotal: unavailable.Minutes(),
			GoUnavailableTotal:         intervalCountByUser[user.ID],
		}
		if totalTracked > 0 {
			row.UnavailabilityPercentage = unavailable.Seconds() / totalTracked.Seconds() * 100
			if row.UnavailabilityPercentage > 100 {
				row.UnavailabilityPercentage = 100
			}
		}
		if n := len(trackingDays); n > 0 {
			row.UnavailabilityMinutesDailyAverage = row.UnavailabilityMinutesTotal / float64(n)
			row.GoUnavailableDailyFrequency = float64(row.GoUnavailableTotal) / float64(n)
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UnavailabilityPercentage != rows[j].UnavailabilityPercentage {
			return rows[i].UnavailabilityPercentage > rows[j].UnavailabilityPercentage
		}
		return rows[i].User.Mail < rows[j].User.Mail
	})

	a.logger.Info().
		Int("sessions", len(sessions)).
		Int("users", len(rows)).
		Int("tracking_days", len(trackingDays)).
		Msg("Report aggregated")

	return rows, span, nil
}

// sessionEndOrNow treats a still-open session as ending now.
func sessionEndOrNow(session storage.Session, now time.Time) time.Time {
	if session.EndTime != nil {
		return *session.EndTime
	}
	return now
}

// clip returns how much of [start, end) falls inside [lo, hi).
func clip(start, end, lo, hi time.Time) time.Duration {
	if start.Before(lo) {
		start = lo
	}
	if end.After(hi) {
		end = hi
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

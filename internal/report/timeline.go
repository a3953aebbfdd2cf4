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

// Segment is one unavailability interval laid out on a session's time
// axis. Position and Width are fractions of the session duration, so any
// renderer can draw the bar without knowing absolute times.
type Segment struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Position float64   `json:"position"`
	Width    float64   `json:"width"`
}

// UserRow is one user's lane in a session timeline.
type UserRow struct {
	User     storage.User `json:"user"`
	Segments []Segment    `json:"segments"`
}

// SessionTimeline is the full layout of one tracking session.
type SessionTimeline struct {
	SessionID uint64        `json:"session_id"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Duration  time.Duration `json:"duration"`
	Rows      []UserRow     `json:"rows"`
}

// TimelineBuilder lays out per-session timelines from the store.
type TimelineBuilder struct {
	store  storage.Store
	clock  tracker.Clock
	logger zerolog.Logger
}

// NewTimelineBuilder creates a timeline builder.
func NewTimelineBuilder(store storage.Store, clock tracker.Clock, logger zerolog.Logger) *TimelineBuilder {
	return &TimelineBuilder{
		store:  store,
		clock:  clock,
		logger: logger.With().Str("component", "timeline").Logger(),
	}
}

// Build lays out every session of the last `days` days, newest first. User
// lanes are ordered by display name so repeated runs produce identical
// layouts.
func (b *TimelineBuilder) Build(ctx context.Context, days int) ([]SessionTimeline, error) {
	now := b.clock.Now()
	cutoff := now.AddDate(0, 0, -days)

	sessions, err := b.store.Sessions().ListStartedSince(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	timelines := make([]SessionTimeline, 0, len(sessions))
	for _, session := range sessions {
		timeline, err := b.layout(ctx, session, now)
		if err != nil {
			return nil, err
		}
		if timeline != nil {
			timelines = append(timelines, *timeline)
		}
	}

	sort.Slice(timelines, func(i, j int) bool { return timelines[i].Start.After(timelines[j].Start) })

	b.logger.Info().Int("sessions", len(timelines)).Msg("Timeline built")
	return timelines, nil
}

func (b *TimelineBuilder) layout(ctx context.Context, session storage.Session, now time.Time) (*SessionTimeline, error) {
	end := sessionEndOrNow(session, now)
	duration := end.Sub(session.StartTime)
	if duration <= 0 {
		return nil, nil
	}

	intervals, err := b.store.Intervals().ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list intervals of session %d: %w", session.ID, err)
	}

	byUser := make(map[string][]Segment)
	for _, iv := range intervals {
		segment, ok := normalize(iv, session.StartTime, end, duration)
		if ok {
			byUser[iv.UserID] = append(byUser[iv.UserID], segment)
		}
	}

	rows := make([]UserRow, 0, len(byUser))
	for userID, segments := range byUser {
		user, err := b.store.Users().Get(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", userID, err)
		}

		sort.Slice(segments, func(i, j int) bool { return segments[i].Start.Before(segments[j].Start) })
		rows = append(rows, UserRow{User: *user, Segments: segments})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].User.DisplayName != rows[j].User.DisplayName {
			return rows[i].User.DisplayName < rows[j].User.DisplayName
		}
		return rows[i].User.Mail < rows[j].User.Mail
	})

	return &SessionTimeline{
		SessionID: session.ID,
		Start:     session.StartTime,
		End:       end,
		Duration:  duration,
		Rows:      rows,
	}, nil
}

// normalize clamps an interval to the session span and converts it to
// fractional coordinates. Intervals fully outside the span are dropped.
func normalize(iv storage.PresenceInterval, sessionStart, sessionEnd time.Time, duration time.Duration) (Segment, bool) {
	start := iv.StartTime
	if start.Before(sessionStart) {
		start = sessionStart
	}

	end := sessionEnd
	if iv.EndTime != nil && iv.EndTime.Before(sessionEnd) {
		end = *iv.EndTime
	}
	if !end.After(start) {
		return Segment{}, false
	}

	return Segment{
		Start:    start,
		End:      end,
		Position: start.Sub(sessionStart).Seconds() / duration.Seconds(),
		Width:    end.Sub(start).Seconds() / duration.Seconds(),
	}, true
}

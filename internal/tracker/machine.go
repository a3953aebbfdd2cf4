package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/presenced/internal/storage"
	"github.com/rs/zerolog"
)

// Transition is the state-machine outcome of applying one sample.
type Transition int

const (
	// TransitionNone means the sample confirmed the current state.
	TransitionNone Transition = iota
	// TransitionOpened means a new unavailability interval was opened.
	TransitionOpened
	// TransitionClosed means the open interval was closed and persisted.
	TransitionClosed
	// TransitionDiscarded means a zero-duration interval was dropped
	// under the flicker policy.
	TransitionDiscarded
)

// Machine converts per-user availability samples into open/closed
// unavailability intervals for one session. Users start Available with no
// open interval, so the first sample can never close anything.
type Machine struct {
	intervals   storage.IntervalStore
	sessionID   uint64
	keepFlicker bool
	open        map[string]storage.PresenceInterval // userID -> open interval
	logger      zerolog.Logger
}

// NewMachine creates a state machine bound to a session.
func NewMachine(intervals storage.IntervalStore, sessionID uint64, keepFlicker bool, logger zerolog.Logger) *Machine {
	return &Machine{
		intervals:   intervals,
		sessionID:   sessionID,
		keepFlicker: keepFlicker,
		open:        make(map[string]storage.PresenceInterval),
		logger:      logger.With().Str("component", "state-machine").Logger(),
	}
}

// Apply feeds one sample into the machine. It returns the transition and,
// for opened/closed/discarded transitions, the affected interval. Failed
// polls must not reach Apply; skipping a tick leaves state unchanged.
func (m *Machine) Apply(ctx context.Context, userID, availability string, at time.Time) (Transition, *storage.PresenceInterval, error) {
	class := Classify(availability)
	current, isOpen := m.open[userID]

	switch {
	case class == ClassUnavailable && !isOpen:
		interval := storage.PresenceInterval{
			ID:        storage.NewIntervalID(),
			SessionID: m.sessionID,
			UserID:    userID,
			StartTime: at,
		}
		if err := m.intervals.Open(ctx, interval); err != nil {
			return TransitionNone, nil, fmt.Errorf("open interval: %w", err)
		}
		m.open[userID] = interval

		m.logger.Debug().
			Str("user_id", userID).
			Str("availability", availability).
			Time("start", at).
			Msg("Interval opened")

		return TransitionOpened, &interval, nil

	case class == ClassAvailable && isOpen:
		delete(m.open, userID)
		end := at
		if end.Before(current.StartTime) {
			end = current.StartTime
		}

		if !m.keepFlicker && !end.After(current.StartTime) {
			if err := m.intervals.Delete(ctx, current.ID); err != nil {
				return TransitionNone, nil, fmt.Errorf("discard flicker interval: %w", err)
			}
			m.logger.Debug().
				Str("user_id", userID).
				Str("interval_id", current.ID).
				Msg("Zero-duration interval discarded")
			return TransitionDiscarded, &current, nil
		}

		if err := m.intervals.Close(ctx, current.ID, end); err != nil {
			return TransitionNone, nil, fmt.Errorf("close interval: %w", err)
		}
		current.EndTime = &end
		current.DurationSeconds = int64(end.Sub(current.StartTime).Seconds())

		m.logger.Debug().
			Str("user_id", userID).
			Str("interval_id", current.ID).
			Int64("duration_seconds", current.DurationSeconds).
			Msg("Interval closed")

		return TransitionClosed, &current, nil

	default:
		// Available while available, or still unavailable: no-op.
		return TransitionNone, nil, nil
	}
}

// OpenCount returns how many intervals are currently open.
func (m *Machine) OpenCount() int {
	return len(m.open)
}

// CloseAll force-closes every open interval at the given instant. Called at
// session end so no interval is ever left dangling.
func (m *Machine) CloseAll(ctx context.Context, at time.Time) (int, error) {
	closed, err := m.intervals.CloseAllOpen(ctx, m.sessionID, at)
	if err != nil {
		return closed, fmt.Errorf("close open intervals: %w", err)
	}
	m.open = make(map[string]storage.PresenceInterval)
	return closed, nil
}

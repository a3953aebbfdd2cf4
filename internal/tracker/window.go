package tracker

import (
	"context"
	"errors"
	"time"
)

// ErrWindowClosed is returned when the daily tracking window has already
// closed for the current run.
var ErrWindowClosed = errors.New("tracker: tracking window already closed")

// WindowState describes where the current time falls relative to the daily
// tracking window.
type WindowState int

const (
	// WindowWaiting means the window has not opened yet.
	WindowWaiting WindowState = iota
	// WindowActive means tracking is currently permitted.
	WindowActive
	// WindowClosed means the window has passed. Terminal for the run.
	WindowClosed
)

func (s WindowState) String() string {
	switch s {
	case WindowWaiting:
		return "waiting"
	case WindowActive:
		return "active"
	case WindowClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Window gates tracking to a configured daily [start_hour, end_hour) range.
// The configured hours are resolved into concrete instants for the current
// run at construction time. When end_hour <= start_hour the window spans
// midnight and the end instant rolls to the next day.
type Window struct {
	start time.Time
	end   time.Time
	clock Clock
}

// NewWindow builds the gate for the current run.
func NewWindow(startHour, endHour int, clock Clock) *Window {
	now := clock.Now()
	year, month, day := now.Date()

	start := time.Date(year, month, day, startHour, 0, 0, 0, now.Location())
	end := time.Date(year, month, day, endHour, 0, 0, 0, now.Location())
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}

	return &Window{start: start, end: end, clock: clock}
}

// Start returns the instant the window opens for this run.
func (w *Window) Start() time.Time { return w.start }

// End returns the instant the window closes for this run.
func (w *Window) End() time.Time { return w.end }

// State reports the window state at the given instant.
func (w *Window) State(now time.Time) WindowState {
	switch {
	case now.Before(w.start):
		return WindowWaiting
	case now.Before(w.end):
		return WindowActive
	default:
		return WindowClosed
	}
}

// IsOpen is the non-blocking check used by the driver each iteration.
func (w *Window) IsOpen() bool {
	return w.State(w.clock.Now()) == WindowActive
}

// AwaitActive suspends the caller until the window is active. It returns
// ErrWindowClosed if the window has already passed, or ctx.Err() on
// cancellation.
func (w *Window) AwaitActive(ctx context.Context) error {
	for {
		switch w.State(w.clock.Now()) {
		case WindowActive:
			return nil
		case WindowClosed:
			return ErrWindowClosed
		}

		wait := w.start.Sub(w.clock.Now())
		if wait > time.Second {
			wait = time.Second
		}
		if err := w.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

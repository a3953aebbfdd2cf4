package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrSessionClosed is returned when closing a session that already has an
// end time. A session's end time is set exactly once.
var ErrSessionClosed = errors.New("storage: session already closed")

// Store represents the root storage interface.
// The tracker is the only writer; report and timeline tooling open the same
// store read-only and must tolerate an in-progress session.
type Store interface {
	Close() error
	Users() UserStore
	Sessions() SessionStore
	Intervals() IntervalStore
}

// UserStore manages tracked user records.
type UserStore interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByMail(ctx context.Context, mail string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Upsert(ctx context.Context, user User) error
}

// SessionStore manages tracking sessions.
type SessionStore interface {
	// Create opens a new session starting at the given instant and assigns
	// its ID.
	Create(ctx context.Context, start time.Time) (*Session, error)
	Get(ctx context.Context, id uint64) (*Session, error)
	// ListOpen returns sessions that have no end time yet. After a clean
	// shutdown this is empty; anything it returns on startup is a crash
	// artifact.
	ListOpen(ctx context.Context) ([]Session, error)
	// ListStartedSince returns sessions with StartTime >= cutoff, ordered by
	// StartTime ascending.
	ListStartedSince(ctx context.Context, cutoff time.Time) ([]Session, error)
	// Touch records the most recent sample instant observed during the
	// session. Recovery uses it as the close timestamp after a crash.
	Touch(ctx context.Context, id uint64, lastSample time.Time) error
	// Close stamps the session's end time. Returns ErrSessionClosed if the
	// end time was already set.
	Close(ctx context.Context, id uint64, end time.Time) error
}

// IntervalStore manages unavailability intervals.
type IntervalStore interface {
	// Open persists a newly opened interval (nil EndTime).
	Open(ctx context.Context, interval PresenceInterval) error
	// Close stamps the interval's end time and derived duration.
	Close(ctx context.Context, id string, end time.Time) error
	// Delete removes an interval. Used for discarded zero-duration flickers.
	Delete(ctx context.Context, id string) error
	// OpenForUser returns the open interval for a (session, user) pair, or
	// ErrNotFound. At most one such interval exists at any time.
	OpenForUser(ctx context.Context, sessionID uint64, userID string) (*PresenceInterval, error)
	// ListBySession returns all intervals of a session ordered by StartTime
	// ascending.
	ListBySession(ctx context.Context, sessionID uint64) ([]PresenceInterval, error)
	// CloseAllOpen closes every open interval of a session at the given
	// instant and returns the number closed.
	CloseAllOpen(ctx context.Context, sessionID uint64, end time.Time) (int, error)
}

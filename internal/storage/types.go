package storage

import "time"

// User is a tracked directory user. ID is assigned by the presence provider
// and never changes; DisplayName and JobTitle may be refreshed on lookup.
type User struct {
	ID          string `json:"id"`
	Mail        string `json:"mail"`
	DisplayName string `json:"display_name"`
	JobTitle    string `json:"job_title,omitempty"`
}

// Session represents one continuous run of the tracking process.
type Session struct {
	ID        uint64     `json:"id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	// LastSample is the most recent sample instant observed in this session.
	// It bounds the close timestamp when a crashed session is recovered.
	LastSample *time.Time `json:"last_sample,omitempty"`
}

// Open reports whether the session has no end time yet.
func (s *Session) Open() bool {
	return s.EndTime == nil
}

// Duration returns the session's length, clamping an open session to now.
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// PresenceInterval is one continuous span of unavailability for a user
// within a session. EndTime is nil while the interval is open;
// DurationSeconds is derived when it closes.
type PresenceInterval struct {
	ID              string     `json:"id"`
	SessionID       uint64     `json:"session_id"`
	UserID          string     `json:"user_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
}

// Open reports whether the interval has no end time yet.
func (p *PresenceInterval) Open() bool {
	return p.EndTime == nil
}

package redis

import (
	"fmt"
	"strconv"
	"time"
)

// Key layout. Every key carries the application prefix so a shared Redis
// instance stays navigable.
const (
	keyPrefix = "presenced"

	keyUsers       = keyPrefix + ":users"        // set of user IDs
	keySessionSeq  = keyPrefix + ":session:next" // counter for session IDs
	keySessions    = keyPrefix + ":sessions"     // zset scored by start unix
	keySessionOpen = keyPrefix + ":sessions:open"
)

func userKey(id string) string { return fmt.Sprintf("%s:user:%s", keyPrefix, id) }

func userMailKey(mail string) string { return fmt.Sprintf("%s:user_mail:%s", keyPrefix, mail) }

func sessionKey(id uint64) string { return fmt.Sprintf("%s:session:%d", keyPrefix, id) }

func intervalKey(id string) string { return fmt.Sprintf("%s:interval:%s", keyPrefix, id) }

func sessionIntervalsKey(sessionID uint64) string {
	return fmt.Sprintf("%s:intervals:session:%d", keyPrefix, sessionID)
}

func openIntervalKey(sessionID uint64, userID string) string {
	return fmt.Sprintf("%s:interval_open:%d:%s", keyPrefix, sessionID, userID)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseOptionalTime(data map[string]string, field string) (*time.Time, error) {
	s, ok := data[field]
	if !ok || s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseInt64(data map[string]string, field string) (int64, error) {
	s, ok := data[field]
	if !ok || s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return n, nil
}

func parseUint64(data map[string]string, field string) (uint64, error) {
	s, ok := data[field]
	if !ok || s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return n, nil
}

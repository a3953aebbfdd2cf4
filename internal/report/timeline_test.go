package report

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/presenced/internal/storage"
	"github.com/goodtune/presenced/internal/tracker"
)

func TestTimelineLayout(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := &tracker.TestClock{CurrentTime: now}

	seedUser(t, store, "u1", "alice@example.com", "Alice")
	seedUser(t, store, "u2", "bob@example.com", "Bob")

	start := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	session := seedSession(t, store, start, 6*time.Hour)

	// Alice: one hour starting one hour in. Bob: open interval clamped to
	// the session end.
	seedInterval(t, store, "iv1", session.ID, "u1", start.Add(time.Hour), time.Hour)
	open := storage.PresenceInterval{ID: "iv2", SessionID: session.ID, UserID: "u2", StartTime: start.Add(5 * time.Hour)}
	if err := store.Intervals().Open(context.Background(), open); err != nil {
		t.Fatalf("open interval: %v", err)
	}

	builder := NewTimelineBuilder(store, clock, zerolog.Nop())
	timelines, err := builder.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(timelines) != 1 {
		t.Fatalf("expected 1 timeline, got %d", len(timelines))
	}

	tl := timelines[0]
	if tl.Duration != 6*time.Hour {
		t.Fatalf("expected 6h duration, got %s", tl.Duration)
	}
	if len(tl.Rows) != 2 {
		t.Fatalf("expected 2 lanes, got %d", len(tl.Rows))
	}

	// Lanes are ordered by display name.
	if tl.Rows[0].User.DisplayName != "Alice" || tl.Rows[1].User.DisplayName != "Bob" {
		t.Fatalf("unexpected lane order: %s, %s", tl.Rows[0].User.DisplayName, tl.Rows[1].User.DisplayName)
	}

	alice := tl.Rows[0].Segments
	if len(alice) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(alice))
	}
	if math.Abs(alice[0].Position-1.0/6) > 1e-9 || math.Abs(alice[0].Width-1.0/6) > 1e-9 {
		t.Fatalf("unexpected segment geometry: %+v", alice[0])
	}

	bob := tl.Rows[1].Segments
	if len(bob) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(bob))
	}
	if math.Abs(bob[0].Position-5.0/6) > 1e-9 || math.Abs(bob[0].Width-1.0/6) > 1e-9 {
		t.Fatalf("open interval not clamped to session end: %+v", bob[0])
	}
	if !bob[0].End.Equal(start.Add(6 * time.Hour)) {
		t.Fatalf("expected end at session end, got %v", bob[0].End)
	}
}

func TestTimelineOrdersSessionsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := &tracker.TestClock{CurrentTime: now}

	older := seedSession(t, store, time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC), 6*time.Hour)
	newer := seedSession(t, store, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), 6*time.Hour)

	builder := NewTimelineBuilder(store, clock, zerolog.Nop())
	timelines, err := builder.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(timelines) != 2 {
		t.Fatalf("expected 2 timelines, got %d", len(timelines))
	}
	if timelines[0].SessionID != newer.ID || timelines[1].SessionID != older.ID {
		t.Fatalf("unexpected order: %d, %d", timelines[0].SessionID, timelines[1].SessionID)
	}
}

func TestWriteTimelineJSON(t *testing.T) {
	dir := t.TempDir()
	timelines := []SessionTimeline{
		{
			SessionID: 1,
			Start:     time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
			End:       time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC),
			Duration:  6 * time.Hour,
		},
	}

	path, err := WriteTimelineJSON(timelines, dir)
	if err != nil {
		t.Fatalf("write timeline: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read timeline: %v", err)
	}
	var decoded []SessionTimeline
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if len(decoded) != 1 || decoded[0].SessionID != 1 {
		t.Fatalf("unexpected decoded timeline: %+v", decoded)
	}
}

package report

import (
	"context"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/presenced/internal/storage"
	"github.com/goodtune/presenced/internal/storage/bolt"
	"github.com/goodtune/presenced/internal/tracker"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "test.bolt"), false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedUser(t *testing.T, store storage.Store, id, mail, name string) {
	t.Helper()
	if err := store.Users().Upsert(context.Background(), storage.User{ID: id, Mail: mail, DisplayName: name}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func seedSession(t *testing.T, store storage.Store, start time.Time, duration time.Duration) *storage.Session {
	t.Helper()
	session, err := store.Sessions().Create(context.Background(), start)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if duration > 0 {
		if err := store.Sessions().Close(context.Background(), session.ID, start.Add(duration)); err != nil {
			t.Fatalf("close seeded session: %v", err)
		}
	}
	return session
}

func seedInterval(t *testing.T, store storage.Store, id string, sessionID uint64, userID string, start time.Time, duration time.Duration) {
	t.Helper()
	iv := storage.PresenceInterval{ID: id, SessionID: sessionID, UserID: userID, StartTime: start}
	if err := store.Intervals().Open(context.Background(), iv); err != nil {
		t.Fatalf("seed interval: %v", err)
	}
	if duration >= 0 {
		if err := store.Intervals().Close(context.Background(), id, start.Add(duration)); err != nil {
			t.Fatalf("close seeded interval: %v", err)
		}
	}
}

func TestAggregateStatistics(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := &tracker.TestClock{CurrentTime: now}

	seedUser(t, store, "u1", "alice@example.com", "Alice")
	seedUser(t, store, "u2", "bob@example.com", "Bob")

	dayA := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	dayB := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	sessionA := seedSession(t, store, dayA, 6*time.Hour)
	sessionB := seedSession(t, store, dayB, 6*time.Hour)

	seedInterval(t, store, "iv1", sessionA.ID, "u1", dayA.Add(time.Hour), time.Hour)
	seedInterval(t, store, "iv2", sessionB.ID, "u1", dayB.Add(30*time.Minute), 15*time.Minute)

	aggregator := NewAggregator(store, clock, zerolog.Nop())
	rows, span, err := aggregator.Aggregate(context.Background(), 7)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if !span.Earliest.Equal(dayB) {
		t.Fatalf("expected earliest %v, got %v", dayB, span.Earliest)
	}
	if !span.Latest.Equal(dayA.Add(6 * time.Hour)) {
		t.Fatalf("expected latest %v, got %v", dayA.Add(6*time.Hour), span.Latest)
	}

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	// Alice has 75 unavailable minutes of 12 tracked hours over 2 days.
	alice := rows[0]
	if alice.User.ID != "u1" {
		t.Fatalf("expected alice first, got %s", alice.User.ID)
	}
	if math.Abs(alice.UnavailabilityPercentage-(4500.0/43200.0*100)) > 1e-9 {
		t.Fatalf("unexpected percentage %f", alice.UnavailabilityPercentage)
	}
	if alice.UnavailabilityMinutesTotal != 75 {
		t.Fatalf("expected 75 minutes, got %f", alice.UnavailabilityMinutesTotal)
	}
	if alice.UnavailabilityMinutesDailyAverage != 37.5 {
		t.Fatalf("expected 37.5 minutes daily, got %f", alice.UnavailabilityMinutesDailyAverage)
	}
	if alice.GoUnavailableTotal != 2 {
		t.Fatalf("expected 2 intervals, got %d", alice.GoUnavailableTotal)
	}
	if alice.GoUnavailableDailyFrequency != 1 {
		t.Fatalf("expected frequency 1, got %f", alice.GoUnavailableDailyFrequency)
	}

	// Bob never went unavailable but still gets a row.
	bob := rows[1]
	if bob.User.ID != "u2" {
		t.Fatalf("expected bob second, got %s", bob.User.ID)
	}
	if bob.UnavailabilityPercentage != 0 || bob.GoUnavailableTotal != 0 {
		t.Fatalf("expected zero row for bob, got %+v", bob)
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := &tracker.TestClock{CurrentTime: now}

	seedUser(t, store, "u1", "alice@example.com", "Alice")
	session := seedSession(t, store, now.AddDate(0, 0, -1), 4*time.Hour)
	seedInterval(t, store, "iv1", session.ID, "u1", now.AddDate(0, 0, -1).Add(time.Hour), 30*time.Minute)

	aggregator := NewAggregator(store, clock, zerolog.Nop())
	first, _, err := aggregator.Aggregate(context.Background(), 7)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	second, _, err := aggregator.Aggregate(context.Background(), 7)
	if err != nil {
		t.Fatalf("aggregate again: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("aggregation not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestAggregateHandlesOpenSession(t *testing.T) {
	store := openTestStore(t)
	start := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	now := start.Add(3 * time.Hour)
	clock := &tracker.TestClock{CurrentTime: now}

	seedUser(t, store, "u1", "alice@example.com", "Alice")
	session := seedSession(t, store, start, 0) // still open

	// Open interval since 10:00; both session and interval run until now.
	iv := storage.PresenceInterval{ID: "iv1", SessionID: session.ID, UserID: "u1", StartTime: start.Add(time.Hour)}
	if err := store.Intervals().Open(context.Background(), iv); err != nil {
		t.Fatalf("open interval: %v", err)
	}

	aggregator := NewAggregator(store, clock, zerolog.Nop())
	rows, _, err := aggregator.Aggregate(context.Background(), 7)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].UnavailabilityMinutesTotal != 120 {
		t.Fatalf("expected 120 minutes, got %f", rows[0].UnavailabilityMinutesTotal)
	}
}

func TestAggregateEmptyWindow(t *testing.T) {
	store := openTestStore(t)
	clock := &tracker.TestClock{CurrentTime: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	seedUser(t, store, "u1", "alice@example.com", "Alice")

	aggregator := NewAggregator(store, clock, zerolog.Nop())
	rows, span, err := aggregator.Aggregate(context.Background(), 7)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !span.Earliest.IsZero() {
		t.Fatalf("expected empty span, got %+v", span)
	}
	if len(rows) != 1 || rows[0].UnavailabilityPercentage != 0 {
		t.Fatalf("expected single zero row, got %+v", rows)
	}
}

func TestWriteCSV(t *testing.T) {
	dir := t.TempDir()
	span := Range{
		Earliest: time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC),
		Latest:   time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC),
	}
	rows := []Row{
		{
			User:                              storage.User{DisplayName: "Alice", Mail: "alice@example.com"},
			UnavailabilityPercentage:          10.4166667,
			UnavailabilityMinutesTotal:        75,
			UnavailabilityMinutesDailyAverage: 37.5,
			GoUnavailableTotal:                2,
			GoUnavailableDailyFrequency:       1,
		},
	}

	path, err := WriteCSV(rows, span, dir)
	if err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if filepath.Base(path) != "2026-03-08-2026-03-09_presence_report.csv" {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header and one row, got %d records", len(records))
	}
	if records[0][0] != "User Name" || records[0][2] != "Unavailability Percentage" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	want := []string{"Alice", "alice@example.com", "10.42", "38", "75", "1.00", "2"}
	if !reflect.DeepEqual(records[1], want) {
		t.Fatalf("unexpected row: %v, want %v", records[1], want)
	}
}

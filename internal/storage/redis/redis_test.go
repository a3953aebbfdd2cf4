package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/goodtune/presenced/internal/config"
	"github.com/goodtune/presenced/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUserStoreRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	user := storage.User{ID: "u1", Mail: "Alice@Example.com", DisplayName: "Alice"}
	if err := store.Users().Upsert(context.Background(), user); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	got, err := store.Users().GetByMail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("get by mail: %v", err)
	}
	if got.ID != "u1" || got.DisplayName != "Alice" {
		t.Fatalf("unexpected user: %+v", got)
	}

	if _, err := store.Users().Get(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStoreLifecycle(t *testing.T) {
	store := setupTestStore(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first, err := store.Sessions().Create(context.Background(), start)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	second, err := store.Sessions().Create(context.Background(), start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected increasing IDs, got %d then %d", first.ID, second.ID)
	}

	if err := store.Sessions().Touch(context.Background(), first.ID, start.Add(time.Minute)); err != nil {
		t.Fatalf("touch session: %v", err)
	}
	if err := store.Sessions().Close(context.Background(), first.ID, start.Add(6*time.Hour)); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if err := store.Sessions().Close(context.Background(), first.ID, start.Add(7*time.Hour)); !errors.Is(err, storage.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}

	open, err := store.Sessions().ListOpen(context.Background())
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].ID != second.ID {
		t.Fatalf("expected only session %d open, got %+v", second.ID, open)
	}

	since, err := store.Sessions().ListStartedSince(context.Background(), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("list started since: %v", err)
	}
	if len(since) != 1 || since[0].ID != second.ID {
		t.Fatalf("expected session %d, got %+v", second.ID, since)
	}
}

func TestIntervalStoreSingleOpenInvariant(t *testing.T) {
	store := setupTestStore(t)
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	iv := storage.PresenceInterval{ID: "iv1", SessionID: 3, UserID: "u1", StartTime: start}
	if err := store.Intervals().Open(context.Background(), iv); err != nil {
		t.Fatalf("open interval: %v", err)
	}

	duplicate := storage.PresenceInterval{ID: "iv2", SessionID: 3, UserID: "u1", StartTime: start}
	if err := store.Intervals().Open(context.Background(), duplicate); err == nil {
		t.Fatal("expected error opening second interval for same user")
	}

	if err := store.Intervals().Close(context.Background(), "iv1", start.Add(10*time.Minute)); err != nil {
		t.Fatalf("close interval: %v", err)
	}

	// After closing, a new interval may open for the same user.
	next := storage.PresenceInterval{ID: "iv3", SessionID: 3, UserID: "u1", StartTime: start.Add(20 * time.Minute)}
	if err := store.Intervals().Open(context.Background(), next); err != nil {
		t.Fatalf("open interval after close: %v", err)
	}

	list, err := store.Intervals().ListBySession(context.Background(), 3)
	if err != nil {
		t.Fatalf("list intervals: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(list))
	}
	if list[0].DurationSeconds != 600 {
		t.Fatalf("expected 600 seconds, got %d", list[0].DurationSeconds)
	}
}

func TestIntervalStoreCloseAllOpen(t *testing.T) {
	store := setupTestStore(t)
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for _, iv := range []storage.PresenceInterval{
		{ID: "iv1", SessionID: 3, UserID: "u1", StartTime: start},
		{ID: "iv2", SessionID: 3, UserID: "u2", StartTime: start.Add(time.Minute)},
	} {
		if err := store.Intervals().Open(context.Background(), iv); err != nil {
			t.Fatalf("open interval: %v", err)
		}
	}

	closed, err := store.Intervals().CloseAllOpen(context.Background(), 3, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("close all open: %v", err)
	}
	if closed != 2 {
		t.Fatalf("expected 2 closed, got %d", closed)
	}

	if _, err := store.Intervals().OpenForUser(context.Background(), 3, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no open interval, got %v", err)
	}
}

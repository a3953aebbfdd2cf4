package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/presenced/internal/storage"
	"github.com/goodtune/presenced/internal/storage/bolt"
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

func TestMachineOpensAndClosesInterval(t *testing.T) {
	store := openTestStore(t)
	machine := NewMachine(store.Intervals(), 1, false, zerolog.Nop())
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	steps := []struct {
		availability string
		at           time.Time
		want         Transition
	}{
		{"Available", base, TransitionNone},
		{"Away", base.Add(60 * time.Second), TransitionOpened},
		{"Away", base.Add(120 * time.Second), TransitionNone},
		{"Available", base.Add(180 * time.Second), TransitionClosed},
	}

	for i, step := range steps {
		got, _, err := machine.Apply(context.Background(), "u1", step.availability, step.at)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != step.want {
			t.Fatalf("step %d: expected transition %d, got %d", i, step.want, got)
		}
	}

	intervals, err := store.Intervals().ListBySession(context.Background(), 1)
	if err != nil {
		t.Fatalf("list intervals: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(intervals))
	}
	iv := intervals[0]
	if !iv.StartTime.Equal(base.Add(60 * time.Second)) {
		t.Fatalf("unexpected start: %v", iv.StartTime)
	}
	if iv.DurationSeconds != 120 {
		t.Fatalf("expected 120 seconds, got %d", iv.DurationSeconds)
	}
	if machine.OpenCount() != 0 {
		t.Fatalf("expected no open intervals, got %d", machine.OpenCount())
	}
}

func TestMachineFirstSampleUnavailableOpens(t *testing.T) {
	store := openTestStore(t)
	machine := NewMachine(store.Intervals(), 1, false, zerolog.Nop())
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	got, iv, err := machine.Apply(context.Background(), "u1", "Offline", at)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != TransitionOpened {
		t.Fatalf("expected opened, got %d", got)
	}
	if iv == nil || !iv.StartTime.Equal(at) {
		t.Fatalf("unexpected interval: %+v", iv)
	}
}

func TestMachineDiscardsFlicker(t *testing.T) {
	store := openTestStore(t)
	machine := NewMachine(store.Intervals(), 1, false, zerolog.Nop())
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	if _, _, err := machine.Apply(context.Background(), "u1", "Away", at); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _, err := machine.Apply(context.Background(), "u1", "Available", at)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != TransitionDiscarded {
		t.Fatalf("expected discarded, got %d", got)
	}

	intervals, err := store.Intervals().ListBySession(context.Background(), 1)
	if err != nil {
		t.Fatalf("list intervals: %v", err)
	}
	if len(intervals) != 0 {
		t.Fatalf("expected no intervals, got %d", len(intervals))
	}
}

func TestMachineKeepsFlickerWhenConfigured(t *testing.T) {
	store := openTestStore(t)
	machine := NewMachine(store.Intervals(), 1, true, zerolog.Nop())
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	if _, _, err := machine.Apply(context.Background(), "u1", "Away", at); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, iv, err := machine.Apply(context.Background(), "u1", "Available", at)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != TransitionClosed {
		t.Fatalf("expected closed, got %d", got)
	}
	if iv.DurationSeconds != 0 {
		t.Fatalf("expected zero duration, got %d", iv.DurationSeconds)
	}

	intervals, err := store.Intervals().ListBySession(context.Background(), 1)
	if err != nil {
		t.Fatalf("list intervals: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(intervals))
	}
}

func TestMachineCloseAll(t *testing.T) {
	store := openTestStore(t)
	machine := NewMachine(store.Intervals(), 1, false, zerolog.Nop())
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for _, user := range []string{"u1", "u2", "u3"} {
		if _, _, err := machine.Apply(context.Background(), user, "Away", base); err != nil {
			t.Fatalf("apply %s: %v", user, err)
		}
	}

	closed, err := machine.CloseAll(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("close all: %v", err)
	}
	if closed != 3 {
		t.Fatalf("expected 3 closed, got %d", closed)
	}
	if machine.OpenCount() != 0 {
		t.Fatalf("expected no open intervals, got %d", machine.OpenCount())
	}

	intervals, err := store.Intervals().ListBySession(context.Background(), 1)
	if err != nil {
		t.Fatalf("list intervals: %v", err)
	}
	for _, iv := range intervals {
		if iv.Open() {
			t.Fatalf("interval %s still open", iv.ID)
		}
		if iv.DurationSeconds != 3600 {
			t.Fatalf("expected 3600 seconds, got %d", iv.DurationSeconds)
		}
	}
}

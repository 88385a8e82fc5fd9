package scheduler

import (
	"testing"
	"time"

	"notioncalsync/internal/store"
	"notioncalsync/internal/task"
)

func TestFullSyncIntervalDefaultsWhenUnset(t *testing.T) {
	mapping := store.New(store.NewMemory())
	got := fullSyncInterval(mapping)
	want := time.Duration(task.DefaultFullSyncMinutes) * time.Minute
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFullSyncIntervalUsesStoredSetting(t *testing.T) {
	mapping := store.New(store.NewMemory())
	if err := mapping.PutSetting("full_sync_interval_minutes", 45); err != nil {
		t.Fatalf("seed setting: %v", err)
	}
	got := fullSyncInterval(mapping)
	if got != 45*time.Minute {
		t.Fatalf("got %v want 45m", got)
	}
}

func TestFullSyncIntervalIgnoresNonPositiveStoredValue(t *testing.T) {
	mapping := store.New(store.NewMemory())
	if err := mapping.PutSetting("full_sync_interval_minutes", 0); err != nil {
		t.Fatalf("seed setting: %v", err)
	}
	got := fullSyncInterval(mapping)
	want := time.Duration(task.DefaultFullSyncMinutes) * time.Minute
	if got != want {
		t.Fatalf("expected default fallback for non-positive stored value, got %v want %v", got, want)
	}
}

func TestIsFullSyncDueWhenUnset(t *testing.T) {
	mapping := store.New(store.NewMemory())
	due, err := isFullSyncDue(mapping)
	if err != nil {
		t.Fatalf("isFullSyncDue: %v", err)
	}
	if !due {
		t.Fatal("expected due=true when last_full_sync has never been set")
	}
}

func TestIsFullSyncDueWhenIntervalElapsed(t *testing.T) {
	mapping := store.New(store.NewMemory())
	if err := mapping.PutSetting("full_sync_interval_minutes", 30); err != nil {
		t.Fatalf("seed interval: %v", err)
	}
	stale := time.Now().Add(-31 * time.Minute).UTC().Format(time.RFC3339)
	if err := mapping.PutSetting("last_full_sync", stale); err != nil {
		t.Fatalf("seed last_full_sync: %v", err)
	}

	due, err := isFullSyncDue(mapping)
	if err != nil {
		t.Fatalf("isFullSyncDue: %v", err)
	}
	if !due {
		t.Fatal("expected due=true once full_sync_interval_minutes has elapsed")
	}
}

func TestIsFullSyncDueWhenIntervalNotElapsed(t *testing.T) {
	mapping := store.New(store.NewMemory())
	if err := mapping.PutSetting("full_sync_interval_minutes", 30); err != nil {
		t.Fatalf("seed interval: %v", err)
	}
	recent := time.Now().Add(-5 * time.Minute).UTC().Format(time.RFC3339)
	if err := mapping.PutSetting("last_full_sync", recent); err != nil {
		t.Fatalf("seed last_full_sync: %v", err)
	}

	due, err := isFullSyncDue(mapping)
	if err != nil {
		t.Fatalf("isFullSyncDue: %v", err)
	}
	if due {
		t.Fatal("expected due=false before full_sync_interval_minutes has elapsed")
	}
}

func TestIsFullSyncDueTreatsUnparseableTimestampAsUnset(t *testing.T) {
	mapping := store.New(store.NewMemory())
	if err := mapping.PutSetting("last_full_sync", "not-a-timestamp"); err != nil {
		t.Fatalf("seed last_full_sync: %v", err)
	}

	due, err := isFullSyncDue(mapping)
	if err != nil {
		t.Fatalf("isFullSyncDue: %v", err)
	}
	if !due {
		t.Fatal("expected due=true when last_full_sync cannot be parsed")
	}
}

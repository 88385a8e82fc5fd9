// Package scheduler wires the reconciliation engine into the daemon's
// ticker loop (§4.7): on each tick, run an authoritative bidirectional
// pass only if last_full_sync is unset or full_sync_interval_minutes has
// elapsed since it, otherwise skip the tick. Interval gating lives here
// rather than in internal/daemon, since it depends on mapping-store state
// the daemon itself knows nothing about; the daemon just ticks and calls
// the single sync function this package builds.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"notioncalsync/internal/daemon"
	"notioncalsync/internal/notification"
	"notioncalsync/internal/reconcile"
	"notioncalsync/internal/store"
	"notioncalsync/internal/task"
)

// New builds a *daemon.Daemon configured to run one authoritative
// bidirectional pass on each due tick. notify may be nil, in which case
// sync-complete/sync-error notifications are skipped.
func New(cfg *daemon.Config, engine *reconcile.Engine, mapping *store.MappingStore, notify notification.NotificationManager, log zerolog.Logger) *daemon.Daemon {
	d := daemon.New(cfg)
	d.SetSyncFunc(NewSyncFunc(engine, mapping, notify, log))
	return d
}

// NewSyncFunc builds the tick function a daemon.Daemon (or
// daemon.RunDaemonMode) calls on each due tick: run an authoritative pass
// only if it is due (§4.7), otherwise return nil without touching the
// engine. Exposed standalone so the CLI's detached-daemon entry point can
// construct one without going through New's *daemon.Daemon.
func NewSyncFunc(engine *reconcile.Engine, mapping *store.MappingStore, notify notification.NotificationManager, log zerolog.Logger) func() error {
	return func() error {
		due, err := isFullSyncDue(mapping)
		if err != nil {
			return fmt.Errorf("scheduler: check last_full_sync: %w", err)
		}
		if !due {
			return nil
		}
		return runAuthoritativePass(engine, mapping, notify, log)
	}
}

// isFullSyncDue reports whether last_full_sync is unset or
// full_sync_interval_minutes has elapsed since it.
func isFullSyncDue(mapping *store.MappingStore) (bool, error) {
	var lastFullSync string
	ok, err := mapping.GetSetting("last_full_sync", &lastFullSync)
	if err != nil {
		return false, err
	}
	if !ok || lastFullSync == "" {
		return true, nil
	}

	last, err := time.Parse(time.RFC3339, lastFullSync)
	if err != nil {
		// Unparseable setting: treat as unset rather than wedge the scheduler.
		return true, nil
	}

	return time.Since(last) >= fullSyncInterval(mapping), nil
}

func fullSyncInterval(mapping *store.MappingStore) time.Duration {
	var minutes int
	if ok, _ := mapping.GetSetting("full_sync_interval_minutes", &minutes); ok && minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return task.DefaultFullSyncMinutes * time.Minute
}

func runAuthoritativePass(engine *reconcile.Engine, mapping *store.MappingStore, notify notification.NotificationManager, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// Clearing the stored cursors makes Pass gather both sides without sync
	// tokens; Pass stores fresh ones when it finishes.
	_ = mapping.PutSetting("notion_sync_token", "")
	_ = mapping.PutSetting("caldav_sync_token", "")

	counters, err := engine.Pass(ctx, reconcile.Options{AllowDocWrites: true, AllowCalWrites: true})
	if err != nil {
		if notify != nil {
			notify.SendAsync(notification.Notification{
				Type:      notification.NotifySyncError,
				Title:     "notioncalsync",
				Message:   err.Error(),
				Timestamp: time.Now(),
			})
		}
		return fmt.Errorf("scheduler: authoritative pass: %w", err)
	}

	if err := mapping.PutSetting("last_full_sync", time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn().Err(err).Msg("scheduler: failed to persist last_full_sync")
	}

	log.Info().
		Int("synced", counters.Synced).
		Int("noop", counters.Noop).
		Int("errors", counters.Errors).
		Msg("scheduler: authoritative pass complete")

	if notify != nil {
		msg := fmt.Sprintf("synced=%d noop=%d errors=%d", counters.Synced, counters.Noop, counters.Errors)
		if counters.Errors > 0 {
			notify.SendAsync(notification.Notification{Type: notification.NotifyConflict, Title: "notioncalsync", Message: msg, Timestamp: time.Now()})
		} else {
			notify.SendAsync(notification.Notification{Type: notification.NotifySyncComplete, Title: "notioncalsync", Message: msg, Timestamp: time.Now()})
		}
	}
	return nil
}

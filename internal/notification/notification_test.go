package notification_test

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"notioncalsync/internal/notification"
)

func TestManagerSendsOnlyToEnabledChannels(t *testing.T) {
	cfg := &notification.Config{Enabled: true}
	mgr, err := notification.NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if mgr.ChannelCount() != 0 {
		t.Errorf("expected 0 channels when neither OS nor log notification is enabled, got %d", mgr.ChannelCount())
	}
	if err := mgr.Send(notification.Notification{Type: notification.NotifyTest}); err != nil {
		t.Errorf("expected Send with zero channels to be a no-op, got: %v", err)
	}
}

func TestManagerDisabledIsNoOp(t *testing.T) {
	var sent bool
	mgr, err := notification.NewManager(&notification.Config{Enabled: false}, notification.WithSendCallback(func(n notification.Notification) {
		sent = true
	}))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Send(notification.Notification{Type: notification.NotifySyncError}); err != nil {
		t.Errorf("expected nil error from a disabled manager, got %v", err)
	}
	if sent {
		t.Error("expected a disabled manager to never reach a channel's send callback")
	}
}

func TestManagerDeliversSyncErrorToOSChannel(t *testing.T) {
	var gotCmd string
	var gotArgs []string
	mock := &notification.MockCommandExecutor{
		ExecuteFunc: func(cmd string, args ...string) error {
			gotCmd = cmd
			gotArgs = args
			return nil
		},
	}

	cfg := &notification.Config{
		Enabled: true,
		OSNotification: notification.OSNotificationConfig{
			Enabled:     true,
			OnSyncError: true,
		},
	}
	mgr, err := notification.NewManager(cfg, notification.WithCommandExecutor(mock), notification.WithPlatform("linux"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := mgr.Send(notification.Notification{
		Type:    notification.NotifySyncError,
		Title:   "notioncalsync",
		Message: "caldav unreachable",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotCmd != "notify-send" {
		t.Errorf("expected notify-send, got %q", gotCmd)
	}
	if len(gotArgs) < 2 || gotArgs[1] != "caldav unreachable" {
		t.Errorf("expected the sync error message to be passed through, got %v", gotArgs)
	}
}

func TestManagerSkipsDisabledEventType(t *testing.T) {
	var called bool
	mock := &notification.MockCommandExecutor{
		ExecuteFunc: func(cmd string, args ...string) error {
			called = true
			return nil
		},
	}

	cfg := &notification.Config{
		Enabled: true,
		OSNotification: notification.OSNotificationConfig{
			Enabled:     true,
			OnSyncError: false, // operator opted out of sync-error popups
		},
	}
	mgr, err := notification.NewManager(cfg, notification.WithCommandExecutor(mock), notification.WithPlatform("linux"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := mgr.Send(notification.Notification{Type: notification.NotifySyncError}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if called {
		t.Error("expected sync_error notifications to be suppressed when OnSyncError is false")
	}
}

func TestLogChannelWritesAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "notifications.log")

	ch := notification.NewLogNotificationChannel(&notification.LogNotificationConfig{
		Path:      logPath,
		MaxSizeMB: 10,
	})

	if err := ch.Send(notification.Notification{
		Type:      notification.NotifySyncComplete,
		Message:   "synced=3 noop=1 errors=0",
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := notification.ReadLog(logPath)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if !strings.Contains(entries[0], "SYNC_COMPLETE") || !strings.Contains(entries[0], "synced=3") {
		t.Errorf("unexpected log line: %q", entries[0])
	}
}

func TestLogChannelRotatesPastMaxSize(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "notifications.log")

	ch := notification.NewLogNotificationChannel(&notification.LogNotificationConfig{
		Path:      logPath,
		MaxSizeMB: 0, // rotate on the very next write
	})
	if err := ch.Send(notification.Notification{Type: notification.NotifyTest, Message: "first"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = ch.Close()

	ch2 := notification.NewLogNotificationChannel(&notification.LogNotificationConfig{
		Path:      logPath,
		MaxSizeMB: 0,
	})
	if err := ch2.Send(notification.Notification{Type: notification.NotifyTest, Message: "second"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = ch2.Close()

	if old, err := notification.ReadLog(logPath + ".old"); err != nil || len(old) != 1 || !strings.Contains(old[0], "first") {
		t.Errorf("expected a rotated .old file holding the first line, got %v (err=%v)", old, err)
	}
}

func TestReadLogMissingFileIsNotAnError(t *testing.T) {
	entries, err := notification.ReadLog(filepath.Join(t.TempDir(), "missing.log"))
	if err != nil {
		t.Fatalf("expected no error for a missing log file, got %v", err)
	}
	if entries != nil {
		t.Errorf("expected nil entries for a missing log file, got %v", entries)
	}
}

func TestClearLogTruncates(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "notifications.log")

	ch := notification.NewLogNotificationChannel(&notification.LogNotificationConfig{Path: logPath, MaxSizeMB: 10})
	_ = ch.Send(notification.Notification{Type: notification.NotifyTest, Message: "hello"})
	_ = ch.Close()

	if err := notification.ClearLog(logPath); err != nil {
		t.Fatalf("ClearLog: %v", err)
	}
	entries, err := notification.ReadLog(logPath)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected an empty log after ClearLog, got %v", entries)
	}
}

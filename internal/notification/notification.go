// Package notification delivers scheduler events (full-sync completion,
// full-sync errors, unresolved conflicts) to the operator running synctool,
// either as an OS-native desktop notification or as a line in a rotating
// notification log the admin surface's "history" action can read back.
package notification

import (
	"time"
)

// NotificationType identifies what kind of scheduler event occurred.
type NotificationType string

const (
	NotifySyncComplete NotificationType = "sync_complete"
	NotifySyncError    NotificationType = "sync_error"
	NotifyConflict     NotificationType = "conflict"
	NotifyTest         NotificationType = "test"
)

// Notification is one scheduler event to deliver.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Timestamp time.Time
	Metadata  map[string]string
}

// NotificationManager dispatches a Notification to every enabled channel.
type NotificationManager interface {
	Send(n Notification) error
	SendAsync(n Notification)
	Close() error
	ChannelCount() int
}

// NotificationChannel delivers a Notification one way (OS popup, log line).
type NotificationChannel interface {
	Send(n Notification) error
	Close() error
}

// Config selects which notification channels are active.
type Config struct {
	Enabled         bool
	OSNotification  OSNotificationConfig
	LogNotification LogNotificationConfig
}

// OSNotificationConfig controls the desktop-notification channel.
type OSNotificationConfig struct {
	Enabled        bool
	OnSyncComplete bool
	OnSyncError    bool
	OnConflict     bool
}

// LogNotificationConfig controls the rotating notification-log channel.
type LogNotificationConfig struct {
	Enabled       bool
	Path          string
	MaxSizeMB     int
	RetentionDays int
}

// CommandExecutor runs the external command a channel shells out to
// (notify-send, osascript, powershell). Swappable in tests.
type CommandExecutor interface {
	Execute(cmd string, args ...string) error
}

// MockCommandExecutor is a test double for CommandExecutor.
type MockCommandExecutor struct {
	ExecuteFunc func(cmd string, args ...string) error
}

func (m *MockCommandExecutor) Execute(cmd string, args ...string) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(cmd, args...)
	}
	return nil
}

// Option configures a channel or manager at construction time.
type Option func(interface{})

// WithCommandExecutor overrides the command executor a channel shells out with.
func WithCommandExecutor(executor CommandExecutor) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.executor = executor
		}
		if mgr, ok := c.(*manager); ok {
			mgr.commandExecutor = executor
		}
	}
}

// WithPlatform overrides the OS the desktop-notification channel targets.
func WithPlatform(platform string) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.platform = platform
		}
	}
}

// WithSendCallback registers a callback invoked whenever a notification is
// sent, for tests that want to observe dispatch without shelling out.
func WithSendCallback(callback func(Notification)) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.sendCallback = callback
		}
		if mgr, ok := c.(*manager); ok {
			mgr.sendCallback = callback
		}
	}
}

package notification

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// logNotificationChannel appends scheduler events to a rotating log file
// that the admin surface's "history"/"clear_history" actions read and clear.
type logNotificationChannel struct {
	config *LogNotificationConfig
	file   *os.File
	mu     sync.Mutex
}

// NewLogNotificationChannel creates the log channel described by cfg.
func NewLogNotificationChannel(cfg *LogNotificationConfig) NotificationChannel {
	return &logNotificationChannel{
		config: cfg,
	}
}

// Send appends one line per event: timestamp, event type, message.
func (c *logNotificationChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureFile(); err != nil {
		return err
	}

	typeStr := strings.ToUpper(string(n.Type))
	line := fmt.Sprintf("%s [%s] %s\n", n.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), typeStr, n.Message)

	_, err := c.file.WriteString(line)
	if err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}

	return c.file.Sync()
}

// ensureFile opens the log file, rotating it first if it has grown past
// MaxSizeMB.
func (c *logNotificationChannel) ensureFile() error {
	if c.file != nil {
		return nil
	}

	dir := filepath.Dir(c.config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := c.rotateIfNeeded(); err != nil {
		return err
	}

	file, err := os.OpenFile(c.config.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	c.file = file
	return nil
}

// rotateIfNeeded renames the current log to a .old sibling once it exceeds
// MaxSizeMB, so a long-running daemon doesn't grow the log unbounded.
func (c *logNotificationChannel) rotateIfNeeded() error {
	info, err := os.Stat(c.config.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	maxBytes := int64(c.config.MaxSizeMB) * 1024 * 1024
	if info.Size() < maxBytes {
		return nil
	}

	oldPath := c.config.Path + ".old"
	if err := os.Rename(c.config.Path, oldPath); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	return nil
}

// Close releases the open log file, if any.
func (c *logNotificationChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file != nil {
		err := c.file.Close()
		c.file = nil
		return err
	}
	return nil
}

// ReadLog returns every line written so far, for the admin surface's
// "history" action. A missing file (nothing sent yet) is not an error.
func ReadLog(path string) ([]string, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var entries []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		entries = append(entries, scanner.Text())
	}

	return entries, scanner.Err()
}

// ClearLog truncates the log file, for the admin surface's "clear_history"
// action.
func ClearLog(path string) error {
	return os.WriteFile(path, []byte{}, 0644)
}

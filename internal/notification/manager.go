package notification

// manager fans a scheduler event out to every enabled channel.
type manager struct {
	channels        []NotificationChannel
	enabled         bool
	commandExecutor CommandExecutor
	sendCallback    func(Notification)
}

// NewManager builds a NotificationManager from cfg, wiring an OS-notification
// channel and/or a log channel depending on which is enabled. Returns a
// manager with zero channels (a no-op Send/SendAsync) when cfg.Enabled is
// false, so callers never need a nil check.
func NewManager(cfg *Config, opts ...Option) (NotificationManager, error) {
	m := &manager{
		channels: []NotificationChannel{},
		enabled:  cfg.Enabled,
	}

	for _, opt := range opts {
		opt(m)
	}

	if !cfg.Enabled {
		return m, nil
	}

	if cfg.OSNotification.Enabled {
		var osOpts []Option
		if m.commandExecutor != nil {
			osOpts = append(osOpts, WithCommandExecutor(m.commandExecutor))
		}
		osChannel := NewOSNotificationChannel(&cfg.OSNotification, osOpts...)
		m.channels = append(m.channels, osChannel)
	}

	if cfg.LogNotification.Enabled {
		logChannel := NewLogNotificationChannel(&cfg.LogNotification)
		m.channels = append(m.channels, logChannel)
	}

	return m, nil
}

// Send delivers n to every channel, attempting each one even when an earlier
// one fails, and returns the last error seen (if any); an earlier channel's
// error is not returned when a later one also fails.
func (m *manager) Send(n Notification) error {
	if !m.enabled {
		return nil
	}
	if m.sendCallback != nil {
		m.sendCallback(n)
	}

	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// SendAsync delivers n without blocking the scheduler's reconciliation pass
// on a slow or unreachable notification channel.
func (m *manager) SendAsync(n Notification) {
	go func() {
		_ = m.Send(n)
	}()
}

// Close releases every channel's resources (the log channel's open file).
func (m *manager) Close() error {
	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ChannelCount reports how many channels are active, mainly for tests.
func (m *manager) ChannelCount() int {
	return len(m.channels)
}

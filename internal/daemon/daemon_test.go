package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDaemonFilePermissions(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		PIDPath:    filepath.Join(tmpDir, "subdir", "daemon.pid"),
		SocketPath: filepath.Join(tmpDir, "sockdir", "daemon.sock"),
		LogPath:    filepath.Join(tmpDir, "logdir", "daemon.log"),
		Interval:   100 * time.Millisecond,
	}

	d := New(cfg)
	d.SetSyncFunc(func() error { return nil })

	done := make(chan struct{})
	go func() {
		_ = d.Start()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	pidDirInfo, err := os.Stat(filepath.Dir(cfg.PIDPath))
	if err != nil {
		t.Fatalf("PID directory should exist: %v", err)
	}
	if perm := pidDirInfo.Mode().Perm(); perm != 0700 {
		t.Errorf("PID directory should have mode 0700, got %04o", perm)
	}

	pidInfo, err := os.Stat(cfg.PIDPath)
	if err != nil {
		t.Fatalf("PID file should exist: %v", err)
	}
	if perm := pidInfo.Mode().Perm(); perm != 0600 {
		t.Errorf("PID file should have mode 0600, got %04o", perm)
	}

	sockDirInfo, err := os.Stat(filepath.Dir(cfg.SocketPath))
	if err != nil {
		t.Fatalf("socket directory should exist: %v", err)
	}
	if perm := sockDirInfo.Mode().Perm(); perm != 0700 {
		t.Errorf("socket directory should have mode 0700, got %04o", perm)
	}

	time.Sleep(150 * time.Millisecond) // let the daemon write a log entry
	logInfo, err := os.Stat(cfg.LogPath)
	if err != nil {
		t.Fatalf("log file should exist: %v", err)
	}
	if perm := logInfo.Mode().Perm(); perm != 0600 {
		t.Errorf("log file should have mode 0600, got %04o", perm)
	}

	d.Stop()
	<-done
}

func TestGetSocketPathIncludesUID(t *testing.T) {
	origDir := os.Getenv("XDG_RUNTIME_DIR")
	_ = os.Unsetenv("XDG_RUNTIME_DIR")
	defer func() {
		if origDir != "" {
			_ = os.Setenv("XDG_RUNTIME_DIR", origDir)
		}
	}()

	path := GetSocketPath()
	expected := fmt.Sprintf("/tmp/synctool-daemon-%d.sock", os.Getuid())
	if path != expected {
		t.Errorf("expected %q, got %q", expected, path)
	}
}

func TestGetSocketPathPrefersXDGRuntimeDir(t *testing.T) {
	origRuntime := os.Getenv("XDG_RUNTIME_DIR")
	defer func() { _ = os.Setenv("XDG_RUNTIME_DIR", origRuntime) }()

	_ = os.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	path := GetSocketPath()
	expected := "/run/user/1000/synctool/daemon.sock"
	if path != expected {
		t.Errorf("expected %q, got %q", expected, path)
	}
}

func TestDaemonStartStop(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		PIDPath:     filepath.Join(tmpDir, "daemon.pid"),
		SocketPath:  filepath.Join(tmpDir, "daemon.sock"),
		LogPath:     filepath.Join(tmpDir, "daemon.log"),
		Interval:    100 * time.Millisecond,
		IdleTimeout: 0,
	}

	d := New(cfg)

	var syncCount int32
	d.SetSyncFunc(func() error {
		atomic.AddInt32(&syncCount, 1)
		return nil
	})

	started := make(chan struct{})
	go func() {
		close(started)
		_ = d.Start()
	}()

	<-started
	time.Sleep(50 * time.Millisecond)

	if _, err := os.Stat(cfg.PIDPath); os.IsNotExist(err) {
		t.Errorf("PID file should exist after daemon start")
	}
	if _, err := os.Stat(cfg.SocketPath); os.IsNotExist(err) {
		t.Errorf("socket file should exist after daemon start")
	}

	time.Sleep(150 * time.Millisecond) // wait for at least one reconciliation pass

	d.Stop()
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&syncCount) == 0 {
		t.Errorf("expected the reconciliation pass to run at least once, got 0")
	}
}

func TestDaemonClientNotifyTriggersImmediatePass(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		PIDPath:     filepath.Join(tmpDir, "daemon.pid"),
		SocketPath:  filepath.Join(tmpDir, "daemon.sock"),
		LogPath:     filepath.Join(tmpDir, "daemon.log"),
		Interval:    1 * time.Hour, // long enough that only notify triggers a pass
		IdleTimeout: 0,
	}

	d := New(cfg)

	var syncCount int32
	d.SetSyncFunc(func() error {
		atomic.AddInt32(&syncCount, 1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = d.Start()
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	client := NewClient(cfg.SocketPath)

	if atomic.LoadInt32(&syncCount) != 0 {
		t.Errorf("expected initial sync count 0, got %d", syncCount)
	}

	if err := client.Notify(); err != nil {
		t.Errorf("notify failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&syncCount) != 1 {
		t.Errorf("expected sync count 1 after notify, got %d", syncCount)
	}

	d.Stop()
	<-done
}

func TestDaemonClientStatusReportsCountAndLastError(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		PIDPath:     filepath.Join(tmpDir, "daemon.pid"),
		SocketPath:  filepath.Join(tmpDir, "daemon.sock"),
		LogPath:     filepath.Join(tmpDir, "daemon.log"),
		Interval:    1 * time.Hour,
		IdleTimeout: 0,
	}

	d := New(cfg)

	var fail int32
	d.SetSyncFunc(func() error {
		if atomic.AddInt32(&fail, 1) == 1 {
			return fmt.Errorf("caldav unreachable")
		}
		return nil
	})

	go func() { _ = d.Start() }()
	time.Sleep(50 * time.Millisecond)

	client := NewClient(cfg.SocketPath)

	if err := client.Notify(); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	resp, err := client.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !resp.Running {
		t.Errorf("expected daemon to be running")
	}
	if resp.SyncCount != 1 {
		t.Errorf("expected sync count 1, got %d", resp.SyncCount)
	}
	if resp.LastError != "caldav unreachable" {
		t.Errorf("expected last error to surface in status, got %q", resp.LastError)
	}

	// A subsequent successful pass clears the last error.
	if err := client.Notify(); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	resp, err = client.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if resp.SyncCount != 2 {
		t.Errorf("expected sync count 2, got %d", resp.SyncCount)
	}
	if resp.LastError != "" {
		t.Errorf("expected last error cleared after a successful pass, got %q", resp.LastError)
	}

	d.Stop()
	time.Sleep(100 * time.Millisecond)
}

func TestDaemonConcurrentPerformSyncIsSerialized(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		PIDPath:     filepath.Join(tmpDir, "daemon.pid"),
		SocketPath:  filepath.Join(tmpDir, "daemon.sock"),
		LogPath:     filepath.Join(tmpDir, "daemon.log"),
		Interval:    30 * time.Millisecond,
		IdleTimeout: 0,
	}

	d := New(cfg)

	var concurrent int32
	var maxConcurrent int32
	d.SetSyncFunc(func() error {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			max := atomic.LoadInt32(&maxConcurrent)
			if n <= max || atomic.CompareAndSwapInt32(&maxConcurrent, max, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = d.Start()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	client := NewClient(cfg.SocketPath)
	_ = client.Notify()
	_ = client.Notify()

	time.Sleep(200 * time.Millisecond)
	d.Stop()
	<-done

	if atomic.LoadInt32(&maxConcurrent) > 1 {
		t.Errorf("expected performSync to never run concurrently, saw max concurrency %d", maxConcurrent)
	}
}

func TestDaemonIdleTimeout(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		PIDPath:     filepath.Join(tmpDir, "daemon.pid"),
		SocketPath:  filepath.Join(tmpDir, "daemon.sock"),
		LogPath:     filepath.Join(tmpDir, "daemon.log"),
		Interval:    1 * time.Hour,
		IdleTimeout: 100 * time.Millisecond,
	}

	d := New(cfg)
	d.SetSyncFunc(func() error { return nil })

	done := make(chan struct{})
	go func() {
		_ = d.Start()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Errorf("daemon should have exited due to idle timeout")
		d.Stop()
	}

	if _, err := os.Stat(cfg.PIDPath); err == nil {
		t.Errorf("PID file should be removed after daemon exit")
	}
}

func TestIsRunning(t *testing.T) {
	tmpDir := t.TempDir()
	pidPath := filepath.Join(tmpDir, "daemon.pid")
	socketPath := filepath.Join(tmpDir, "daemon.sock")

	if IsRunning(pidPath, socketPath) {
		t.Errorf("expected daemon to not be running initially")
	}

	cfg := &Config{
		PIDPath:     pidPath,
		SocketPath:  socketPath,
		LogPath:     filepath.Join(tmpDir, "daemon.log"),
		Interval:    100 * time.Millisecond,
		IdleTimeout: 0,
	}

	d := New(cfg)
	d.SetSyncFunc(func() error { return nil })

	go func() { _ = d.Start() }()
	time.Sleep(50 * time.Millisecond)

	if !IsRunning(pidPath, socketPath) {
		t.Errorf("expected daemon to be running")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)

	if IsRunning(pidPath, socketPath) {
		t.Errorf("expected daemon to not be running after stop")
	}
}

func TestForkBuildsDaemonModeArgs(t *testing.T) {
	tmpDir := t.TempDir()
	stub := filepath.Join(tmpDir, "synctool-stub")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0700); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	cfg := &Config{
		PIDPath:     filepath.Join(tmpDir, "daemon.pid"),
		SocketPath:  filepath.Join(tmpDir, "daemon.sock"),
		LogPath:     filepath.Join(tmpDir, "daemon.log"),
		Interval:    5 * time.Minute,
		IdleTimeout: 30 * time.Second,
		ConfigPath:  filepath.Join(tmpDir, "config.yaml"),
		DBPath:      filepath.Join(tmpDir, "state.db"),
		Executable:  stub,
	}

	if err := Fork(cfg); err != nil {
		t.Fatalf("Fork: %v", err)
	}
	// The forked process detaches immediately; there's nothing further to
	// assert without a real re-exec target, so this just exercises the
	// argument-building and process-start path without erroring.
}

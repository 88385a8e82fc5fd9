package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"notioncalsync/internal/config"
	"notioncalsync/internal/daemon"
	"notioncalsync/internal/scheduler"
)

var (
	flagDaemonPIDPath        string
	flagDaemonSocketPath     string
	flagDaemonLogPath        string
	flagDaemonIntervalSecs   int
	flagDaemonIdleTimeoutSec int
)

// newDaemonCmd groups the background-ticker control commands: a lighter
// alternative to "serve" for operators who only want the reconciliation
// loop running unattended, without the webhook/admin HTTP surface.
func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the reconciliation loop as a detached background process",
	}
	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	cmd.AddCommand(newDaemonRunInternalCmd())
	return cmd
}

func defaultDaemonConfig(cfg *config.Config) *daemon.Config {
	return &daemon.Config{
		PIDPath:    filepath.Join(config.GetDataDir(), "synctool.pid"),
		SocketPath: filepath.Join(config.GetDataDir(), "synctool.sock"),
		LogPath:    filepath.Join(config.GetDataDir(), "synctool-daemon.log"),
		Interval:   cfg.FullSyncInterval(),
	}
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Fork a background process running the reconciliation ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			daemonCfg := defaultDaemonConfig(cfg)
			if daemon.IsRunning(daemonCfg.PIDPath, daemonCfg.SocketPath) {
				return fmt.Errorf("synctool: daemon already running (pid file %s)", daemonCfg.PIDPath)
			}
			daemonCfg.ConfigPath = flagConfigPath
			daemonCfg.DBPath = flagDBPath
			if err := daemon.Fork(daemonCfg); err != nil {
				return fmt.Errorf("synctool: fork daemon: %w", err)
			}
			fmt.Printf("daemon started (pid file: %s, socket: %s)\n", daemonCfg.PIDPath, daemonCfg.SocketPath)
			return nil
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			daemonCfg := defaultDaemonConfig(cfg)
			if !daemon.IsRunning(daemonCfg.PIDPath, daemonCfg.SocketPath) {
				return fmt.Errorf("synctool: no daemon running")
			}
			client := daemon.NewClient(daemonCfg.SocketPath)
			if err := client.Stop(); err != nil {
				return fmt.Errorf("synctool: stop daemon: %w", err)
			}
			fmt.Println("daemon stopped")
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the background daemon's sync count and last pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			daemonCfg := defaultDaemonConfig(cfg)
			if !daemon.IsRunning(daemonCfg.PIDPath, daemonCfg.SocketPath) {
				fmt.Println("daemon not running")
				return nil
			}
			client := daemon.NewClient(daemonCfg.SocketPath)
			resp, err := client.Status()
			if err != nil {
				return fmt.Errorf("synctool: query daemon status: %w", err)
			}
			fmt.Printf("running=%v sync_count=%d last_sync=%s last_error=%s\n",
				resp.Running, resp.SyncCount, orDash(resp.LastSync), orDash(resp.LastError))
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// newDaemonRunInternalCmd is the hidden entry point daemon.Fork re-execs
// into; it runs only the reconciliation ticker in the foreground of the
// forked process; it is not meant to be invoked directly by operators.
func newDaemonRunInternalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "run-internal",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			engine, mapping, closeStore, err := buildEngine(cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			notifier := buildNotifier(cfg)

			daemonCfg := &daemon.Config{
				PIDPath:     flagDaemonPIDPath,
				SocketPath:  flagDaemonSocketPath,
				LogPath:     flagDaemonLogPath,
				Interval:    time.Duration(flagDaemonIntervalSecs) * time.Second,
				IdleTimeout: time.Duration(flagDaemonIdleTimeoutSec) * time.Second,
			}
			syncFunc := scheduler.NewSyncFunc(engine, mapping, notifier, log)
			daemon.RunDaemonMode(daemonCfg, syncFunc)
			return nil // unreachable: RunDaemonMode calls os.Exit
		},
	}
	cmd.Flags().StringVar(&flagDaemonPIDPath, "daemon-pid-path", "", "PID file path")
	cmd.Flags().StringVar(&flagDaemonSocketPath, "daemon-socket-path", "", "Unix socket path")
	cmd.Flags().StringVar(&flagDaemonLogPath, "daemon-log-path", "", "daemon log file path")
	cmd.Flags().IntVar(&flagDaemonIntervalSecs, "daemon-interval", 1800, "reconciliation interval in seconds")
	cmd.Flags().IntVar(&flagDaemonIdleTimeoutSec, "daemon-idle-timeout", 0, "idle shutdown timeout in seconds (0 disables)")
	return cmd
}

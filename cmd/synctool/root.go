package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"notioncalsync/internal/admin"
	"notioncalsync/internal/caldavclient"
	"notioncalsync/internal/config"
	"notioncalsync/internal/daemon"
	"notioncalsync/internal/docstore"
	"notioncalsync/internal/notification"
	"notioncalsync/internal/reconcile"
	"notioncalsync/internal/scheduler"
	"notioncalsync/internal/shutdown"
	"notioncalsync/internal/store"
	"notioncalsync/internal/webhook"
)

var (
	flagConfigPath string
	flagAddr       string
	flagDBPath     string
)

// NewRootCmd builds the synctool command tree: serve, sync, status, daemon.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "synctool",
		Short: "Bidirectional Doc-store/CalDAV sync engine",
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&flagAddr, "addr", "", "admin endpoint address to hit (for sync/status)")
	root.PersistentFlags().StringVar(&flagDBPath, "db", "", "path to the state database")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newDaemonCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, err
	}
	if flagDBPath != "" {
		cfg.Store.Path = flagDBPath
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// buildEngine wires docstore/caldavclient/store into a *reconcile.Engine,
// returning a closer for the state store.
func buildEngine(cfg *config.Config, log zerolog.Logger) (*reconcile.Engine, *store.MappingStore, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("synctool: create store dir: %w", err)
	}
	sqliteStore, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("synctool: open state store: %w", err)
	}
	mapping := store.New(sqliteStore)

	bearer := os.Getenv(cfg.Doc.BearerEnv)
	docs := docstore.New(bearer)

	caldav, err := caldavclient.New(caldavclient.Config{
		BaseURL:      cfg.CalDAV.BaseURL,
		CalendarHref: cfg.Calendar.Href,
		Username:     cfg.CalDAV.Username,
		Password:     os.Getenv(cfg.CalDAV.PasswordEnv),
	})
	if err != nil {
		_ = sqliteStore.Close()
		return nil, nil, nil, fmt.Errorf("synctool: construct caldav client: %w", err)
	}

	engine := &reconcile.Engine{
		Docs:    docs,
		CalDAV:  caldav,
		Mapping: mapping,
		Workers: cfg.Sync.WorkerPoolSize,
		Log:     log,
	}
	return engine, mapping, sqliteStore.Close, nil
}

func buildNotifier(cfg *config.Config) notification.NotificationManager {
	if !cfg.Notify.Enabled {
		return nil
	}
	notifyCfg := &notification.Config{
		Enabled: true,
		OSNotification: notification.OSNotificationConfig{
			Enabled:        true,
			OnSyncComplete: true,
			OnSyncError:    cfg.Notify.OnSyncError,
			OnConflict:     cfg.Notify.OnConflict,
		},
	}
	if cfg.Notify.LogPath != "" {
		notifyCfg.LogNotification = notification.LogNotificationConfig{
			Enabled:       true,
			Path:          cfg.Notify.LogPath,
			MaxSizeMB:     10,
			RetentionDays: 30,
		}
	}
	mgr, err := notification.NewManager(notifyCfg)
	if err != nil {
		return nil
	}
	return mgr
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, admin, and scheduler surfaces",
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

			if err := engine.CalDAV.EnsureCalendar(cmd.Context()); err != nil {
				log.Warn().Err(err).Msg("calendar collection not verified at startup")
			}

			notifier := buildNotifier(cfg)
			mgr := shutdown.NewManager()

			webhookHandler := &webhook.Handler{
				Mapping: mapping,
				Docs:    engine.Docs,
				CalDAV:  engine.CalDAV,
				Log:     log,
				FullSync: func(ctx context.Context) error {
					_, err := engine.Pass(ctx, reconcile.Options{AllowDocWrites: true, AllowCalWrites: true})
					return err
				},
			}
			webhookMux := http.NewServeMux()
			webhookMux.Handle("/webhook/"+cfg.Webhook.Provider, webhookHandler)
			webhookSrv := &http.Server{Addr: cfg.Webhook.Addr, Handler: webhookMux}

			adminToken := os.Getenv(cfg.Admin.TokenEnv)
			adminHandler := &admin.Handler{
				Engine:        engine,
				Mapping:       mapping,
				Docs:          engine.Docs,
				CalDAV:        engine.CalDAV,
				AdminToken:    adminToken,
				Log:           log,
				NotifyLogPath: cfg.Notify.LogPath,
			}
			adminMux := http.NewServeMux()
			adminMux.Handle("/admin/status", adminHandler)
			adminSrv := &http.Server{Addr: cfg.Admin.Addr, Handler: adminMux}

			daemonCfg := &daemon.Config{
				PIDPath:    filepath.Join(config.GetDataDir(), "synctool.pid"),
				SocketPath: filepath.Join(config.GetDataDir(), "synctool.sock"),
				LogPath:    filepath.Join(config.GetDataDir(), "synctool-daemon.log"),
				Interval:   cfg.FullSyncInterval(),
			}
			sched := scheduler.New(daemonCfg, engine, mapping, notifier, log)

			go func() {
				log.Info().Str("addr", cfg.Webhook.Addr).Msg("webhook server listening")
				if err := webhookSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("webhook server failed")
				}
			}()
			go func() {
				log.Info().Str("addr", cfg.Admin.Addr).Msg("admin server listening")
				if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("admin server failed")
				}
			}()
			go func() {
				if err := sched.Start(); err != nil {
					log.Error().Err(err).Msg("scheduler failed")
				}
			}()

			mgr.RegisterCleanup("webhook", func(ctx context.Context) error { return webhookSrv.Shutdown(ctx) })
			mgr.RegisterCleanup("admin", func(ctx context.Context) error { return adminSrv.Shutdown(ctx) })
			mgr.RegisterCleanup("scheduler", func(ctx context.Context) error { sched.Stop(); return nil })

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			log.Info().Msg("shutting down")
			mgr.Shutdown()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return mgr.Wait(shutdownCtx)
		},
	}
}

func newSyncCmd() *cobra.Command {
	var direction string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger a reconciliation pass via the admin endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "bidirectional"
			switch direction {
			case "", "bidirectional":
				action = "bidirectional"
			case "notion_to_caldav", "caldav_to_notion":
				action = direction
			default:
				return fmt.Errorf("unknown --direction %q", direction)
			}
			return postAdminAction(cmd, action)
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "bidirectional", "bidirectional|notion_to_caldav|caldav_to_notion")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check connectivity via the admin endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAdminAction(cmd, "check_connectivity")
		},
	}
}

func postAdminAction(cmd *cobra.Command, action string) error {
	addr := flagAddr
	if addr == "" {
		addr = "http://localhost:8182"
	}
	form := bytes.NewBufferString("action=" + action)
	resp, err := http.Post(addr+"/admin/status", "application/x-www-form-urlencoded", form)
	if err != nil {
		return fmt.Errorf("synctool: admin request: %w", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("synctool: decode admin response: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

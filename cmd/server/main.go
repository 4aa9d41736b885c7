package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noahxzhu/pillbox/internal/assistant"
	"github.com/noahxzhu/pillbox/internal/config"
	"github.com/noahxzhu/pillbox/internal/events"
	"github.com/noahxzhu/pillbox/internal/model"
	"github.com/noahxzhu/pillbox/internal/notify"
	"github.com/noahxzhu/pillbox/internal/pushover"
	"github.com/noahxzhu/pillbox/internal/scheduler"
	"github.com/noahxzhu/pillbox/internal/sms"
	"github.com/noahxzhu/pillbox/internal/storage"
	"github.com/noahxzhu/pillbox/internal/web"
)

func main() {
	// Setup structured logger (JSON handler)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load Config
	cfg, err := config.LoadConfig("configs/config.yaml")
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Init Storage
	kv, err := openKV(cfg.Storage)
	if err != nil {
		slog.Error("Failed to open storage", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewReminderStore(kv, storage.WithKey(cfg.Storage.Key))
	store.Load(ctx)
	if n, err := store.Reconcile(ctx); err != nil {
		slog.Error("Failed to reconcile reminders", "error", err)
	} else if n > 0 {
		slog.Info("Recomputed stale reminders", "count", n)
	}

	// Init Notifications
	push := pushover.NewClient(cfg.Notify.PushoverToken, cfg.Notify.PushoverUser)
	permission := notify.RequestPermission(cfg.Notify.Enabled, push)
	slog.Info("Notification permission resolved", "permission", permission)

	var bell io.Writer
	if cfg.Notify.Bell {
		bell = os.Stderr
	}
	toasts := notify.NewToasts(cfg.Notify.ToastCapacity)
	emitter := notify.NewEmitter(permission, push, toasts, bell)

	smsClient := sms.NewClient(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber)
	if cfg.SMS.BaseURL != "" {
		smsClient.BaseURL = cfg.SMS.BaseURL
	}

	// Init Scheduler
	bus := events.NewBus()
	popup := web.NewPopup(cfg.Popup.AutoHide)
	sched := scheduler.New(store, emitter, bus,
		scheduler.WithSMS(smsClient),
		scheduler.WithMissedWindow(cfg.Scheduler.MissedWindow),
		scheduler.WithMissedHook(func(r model.Reminder) { popup.MarkMissed(r.ID) }),
	)
	go sched.Start(ctx)

	fired, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	go popup.Run(ctx, fired)

	// Init Web Server
	deps := web.Deps{
		Store:       store,
		Actions:     sched,
		Popup:       popup,
		Toasts:      toasts,
		Permission:  permission,
		SMS:         smsClient,
		PingMessage: cfg.PingMessage,
	}
	if cfg.MCP.Enabled {
		deps.MCP = assistant.NewServer(store, sched).Handler()
	}
	srv := web.NewServer(deps)
	httpServer := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: srv,
	}

	// Start HTTP Server
	go func() {
		slog.Info("Starting server", "port", cfg.Server.Port, "url", "http://localhost"+cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down...")
	cancel() // Stop scheduler

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	sched.Wait()
	slog.Info("Server exited")
}

func openKV(cfg config.StorageConfig) (storage.KV, error) {
	switch cfg.Backend {
	case config.BackendFile:
		slog.Info("Using file storage", "path", cfg.FilePath)
		return storage.NewFileKV(cfg.FilePath), nil
	case config.BackendSQLite:
		slog.Info("Using SQLite storage", "path", cfg.SQLitePath)
		return storage.NewSQLiteKV(cfg.SQLitePath)
	case config.BackendMongo:
		slog.Info("Using MongoDB storage", "database", cfg.MongoDatabase)
		return storage.NewMongoKV(cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("invalid storage backend %q: valid options are file, sqlite, mongo", cfg.Backend)
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcus-crane/marquee/config"
	"github.com/marcus-crane/marquee/db"
	"github.com/marcus-crane/marquee/display"
	"github.com/marcus-crane/marquee/engine"
	"github.com/marcus-crane/marquee/notify"
	"github.com/marcus-crane/marquee/routes"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.GetLogLevel(),
	}))
	slog.SetDefault(logger)

	store := openStore(cfg.Marquee.DbPath)
	defer store.Close()

	surface, err := display.NewExecSurface(cfg.Marquee.ImageCommand, cfg.Marquee.VideoCommand)
	if err != nil {
		slog.Error("Failed to set up display", slog.String("error", err.Error()))
		os.Exit(1)
	}

	eng, err := engine.New(cfg, engine.Options{
		Store:    store,
		Surface:  surface,
		Notifier: notify.New(cfg.Pushover.Token, cfg.Pushover.Recipient),
	})
	if err != nil {
		slog.Error("Failed to set up engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := routes.Register(http.NewServeMux(), eng, eng.Events(), cfg.AllowedOriginList())
	srv := &http.Server{
		Addr:              cfg.Marquee.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Marquee status API is running", slog.String("addr", cfg.Marquee.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Status API stopped", slog.String("error", err.Error()))
		}
	}()

	if err := eng.Run(ctx); err != nil {
		slog.Error("Engine stopped", slog.String("error", err.Error()))
	}

	slog.Info("Gracefully shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Failed to shut down status API", slog.String("error", err.Error()))
	}
	slog.Info("Marquee has successfully shut down.")
}

// openStore falls back to memory when the database can't be used. The
// device will have to pair again after a restart but it keeps playing.
func openStore(path string) db.Store {
	store, err := db.NewSqliteStore(path)
	if err == nil {
		err = store.ApplyMigrations()
		if err == nil {
			return store
		}
		store.Close()
	}
	slog.Warn("Failed to open database, nothing will persist across restarts",
		slog.String("path", path),
		slog.String("error", err.Error()))
	return db.NewMemoryStore()
}

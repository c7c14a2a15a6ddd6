package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"rigdata/internal/config"
	"rigdata/internal/database"
	"rigdata/internal/httpserver"
	"rigdata/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	lg := logger.New(cfg.Log.Level)
	defer lg.Sync()

	db, err := database.Open(cfg.Database, lg)
	if err != nil {
		lg.Fatalw("db connect failed", "error", err)
	}
	if err := database.Migrate(db); err != nil {
		lg.Fatalw("automigrate failed", "error", err)
	}
	if err := database.Seed(context.Background(), db, cfg.Auth, lg); err != nil {
		lg.Fatalw("seed failed", "error", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      httpserver.NewRouter(db, cfg, lg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		lg.Infow("listening", "addr", srv.Addr, "env", cfg.Environment, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalw("http server failed", "error", err)
		}
	}()

	sig := <-shutdown
	lg.Infow("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Errorw("http server shutdown", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

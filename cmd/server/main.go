package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oxgame/internal/config"
	"oxgame/internal/logger"
	"oxgame/internal/server"
	"oxgame/internal/storage"
	"oxgame/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("open database", "path", cfg.DBPath, "error", err)
	}
	defer db.Close()

	mem := store.NewMemory()
	state, err := db.LoadAll()
	if err != nil {
		logger.Fatal("load state", "error", err)
	}
	if len(state) > 0 {
		if err := mem.WriteMulti(context.Background(), state); err != nil {
			logger.Fatal("seed state", "error", err)
		}
		logger.Info("state restored", "keys", len(state))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.New(mem, db),
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	mem.Close()
}

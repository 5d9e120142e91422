package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"csms/internal/config"
	"csms/internal/core"
	"csms/internal/db"
	"csms/internal/dispatcher"
	"csms/internal/httpapi"
	"csms/internal/models"
	"csms/internal/pipeline"
	"csms/internal/store"
	"csms/internal/ws"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	zl, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	})
	if err != nil {
		logger.Fatalw("database connect failed", "error", err)
	}
	defer d.Close()

	gw := store.NewPostgres(d.Pool)

	pipe, err := pipeline.New(gw, logger, pipeline.Options{
		Workers:  cfg.JobWorkers,
		Attempts: cfg.JobAttempts,
		Backoff:  cfg.JobBackoff,
	})
	if err != nil {
		logger.Fatalw("pipeline init failed", "error", err)
	}

	svc := core.New(gw, logger, cfg.AuthExpiry)
	disp := dispatcher.New(svc, pipe, logger, cfg.HeartbeatInterval)
	registry := ws.NewRegistry()
	ocppServer := ws.NewServer(registry, disp, svc, logger)
	api := httpapi.NewServer(gw, ocppServer, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infow("csms listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("http server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Infow("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	_ = httpServer.Shutdown(shutdownCtx)

	// Shutdown order matters: mark charge points offline, drain the
	// pipeline, then close persistence.
	if err := gw.SetAllStatus(shutdownCtx, models.StatusOffline); err != nil {
		logger.Warnw("offline marking failed", "error", err)
	}
	if err := pipe.Close(shutdownCtx); err != nil {
		logger.Warnw("pipeline drain incomplete", "error", err)
	}
	d.Close()
	logger.Infow("shutdown complete")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" || env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

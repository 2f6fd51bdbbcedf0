package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cypherspark/mailing/internal/app"
	"github.com/Cypherspark/mailing/internal/config"
	httpapi "github.com/Cypherspark/mailing/internal/http"
	"github.com/Cypherspark/mailing/internal/logger"
	"github.com/Cypherspark/mailing/internal/metrics"
	"github.com/Cypherspark/mailing/internal/worker"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(rootCtx)
	if err != nil {
		logger.New(logger.Options{}).WithError(err).Error("config")
		exitCode = 1
		return
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, RedactPII: cfg.Log.RedactPII})

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.WithError(err).Error("startup")
		exitCode = 1
		return
	}
	defer a.Close()

	stop := make(chan struct{})
	defer close(stop)
	go metrics.NewPGXPoolStats(a.DB.Pool).Start(15*time.Second, stop)

	// ---- Scheduler (optional, in-process) ----
	if cfg.Scheduler.Enabled {
		go func() {
			opt := worker.SchedulerOptions{Interval: cfg.Scheduler.Interval, BatchSize: cfg.Scheduler.BatchSize}
			_ = worker.RunScheduler(rootCtx, a.Store, a.Service, log.WithField("component", "scheduler"), opt)
		}()
	}

	// ---- HTTP server ----
	srv := httpapi.NewServer(a.Service, a.DB, log)
	srv.CORSOrigins = cfg.HTTP.CORSOrigins
	srv.Redis = a.Redis
	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ---- Graceful shutdown ----
	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		log.WithError(err).Error("server")
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
}

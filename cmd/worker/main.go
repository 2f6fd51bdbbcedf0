package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Cypherspark/mailing/internal/app"
	"github.com/Cypherspark/mailing/internal/config"
	"github.com/Cypherspark/mailing/internal/logger"
	"github.com/Cypherspark/mailing/internal/worker"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	// ---- Context / signals ----
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

	// ---- Healthz ----
	go serveHealthz(cfg.Scheduler.HealthAddr)

	// ---- Scheduler ----
	opt := worker.SchedulerOptions{Interval: cfg.Scheduler.Interval, BatchSize: cfg.Scheduler.BatchSize}
	if err := worker.RunScheduler(rootCtx, a.Store, a.Service, log, opt); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("scheduler exited")
		exitCode = 1
		return
	}
}

func serveHealthz(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	_ = http.ListenAndServe(addr, mux)
}

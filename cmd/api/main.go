package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"call-pipeline-go/internal/api"
	"call-pipeline-go/internal/app"
	"call-pipeline-go/internal/config"
	"call-pipeline-go/internal/logger"
)

func main() {
	log := logger.New()
	log.WithField("service", "call-pipeline-go").Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	a, err := app.Build(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build pipeline")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.Sweeper != nil {
		a.Sweeper.Start(ctx)
	}

	// In-flight runs outlive their clients and get the shutdown grace period.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Store:    a.Store,
			Runner:   a.Runner,
			Batch:    a.Batch,
			Log:      log,
			Shutdown: runCtx,
		}),
		ReadTimeout: 15 * time.Second,
		// A single call can spend minutes in transcription retries.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server terminated")
			return
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	cancelRuns()
}

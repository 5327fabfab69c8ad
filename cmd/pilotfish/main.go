package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pilotfish/pilotfish/internal/automation"
	"github.com/pilotfish/pilotfish/internal/config"
	"github.com/pilotfish/pilotfish/internal/controller"
	"github.com/pilotfish/pilotfish/internal/events"
	"github.com/pilotfish/pilotfish/internal/history"
	"github.com/pilotfish/pilotfish/internal/httpapi"
	"github.com/pilotfish/pilotfish/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	if store != nil {
		defer store.Close()
		log.Printf("session history: postgres")
	} else {
		log.Printf("session history: disabled (no DATABASE_URL)")
	}

	factory, err := automation.NewFactory(automation.Options{
		Mode:          cfg.BackendMode,
		StartURL:      cfg.StartURL,
		SearchURL:     cfg.SearchURL,
		UserAgent:     cfg.UserAgent,
		HTTPTimeout:   cfg.HTTPTimeout,
		StepDelay:     cfg.StepDelay,
		PausePoll:     cfg.PausePollInterval,
		FrameInterval: cfg.FrameInterval,
	})
	if err != nil {
		log.Fatalf("backend init failed: %v", err)
	}
	log.Printf("automation backend: %s", factory.Kind())

	broadcaster := events.NewBroadcaster()
	sink := observability.InstrumentedSink{Next: broadcaster, Metrics: metrics}

	service := controller.NewService(controller.ServiceConfig{
		Factory:        factory,
		Sink:           sink,
		Store:          store,
		Metrics:        metrics,
		DefaultTimeout: cfg.DefaultTaskTimeout,
	})

	api := httpapi.New(cfg, service, broadcaster, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	service.Shutdown(shutdownCtx)

	log.Printf("shutdown complete")
}

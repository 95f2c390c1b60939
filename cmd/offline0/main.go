package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"offline0/internal/api"
	"offline0/internal/config"
	"offline0/internal/logger"
	"offline0/internal/offline"
	"offline0/internal/server"
	"offline0/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", getenvDefault("OFFLINE0_CONFIG", "/offline0.yaml"), "path to offline0.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, cfg.Logging.Level)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("offline0 stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	records, closeRecords, err := storage.OpenRecords(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer func() { _ = closeRecords() }()

	coord, err := offline.New(cfg, db, offline.WithLogger(log.With("component", "offline")))
	if err != nil {
		return fmt.Errorf("init coordinator: %w", err)
	}
	defer coord.Close()

	// Goroutines below use coord and db; they finish before either is closed.
	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()

	tracker := api.NewStatusTracker()
	metrics, err := api.NewMetricsObserver(otel.GetMeterProvider().Meter("offline0/api"))
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	client := api.New(cfg.API.BaseURL,
		api.WithTimeout(cfg.APITimeout()),
		api.WithMaxRetries(cfg.APIMaxRetries()),
		api.WithBackoff(cfg.APIBackoff()),
		api.WithLogger(log.With("component", "api")),
		api.WithObservers(tracker, metrics),
		api.WithRecordStore(records),
		api.WithStateListener(func(_, next api.ConnectionState) {
			if next == api.Connected {
				wg.Add(1)
				go func() {
					defer wg.Done()
					recoverOnline(ctx, coord, log)
				}()
			}
		}),
	)

	if err := coord.Start(ctx); err != nil {
		log.Warn("coordinator not controlling yet, passing requests through", "err", err)
	}
	client.Init(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.Monitor(ctx, cfg.APIHealthEvery())
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           server.New(coord, server.WithLogger(log), server.WithAPI(client, tracker)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("offline0 listening", "addr", addr, "origin", cfg.Server.Origin, "api", cfg.API.BaseURL)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// recoverOnline finishes a failed install and drains the pending queue once
// the backend is reachable again.
func recoverOnline(ctx context.Context, coord *offline.Coordinator, log *slog.Logger) {
	if !coord.Controlling() {
		if err := coord.Start(ctx); err != nil {
			log.Warn("retry install", "err", err)
			return
		}
	}
	n, err := coord.Reconcile(ctx)
	if err != nil {
		log.Warn("reconcile after reconnect", "err", err)
		return
	}
	if n > 0 {
		log.Info("synced queued translations", "count", n)
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}

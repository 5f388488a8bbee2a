// incidentd evaluates every configured domain on its schedule, publishes
// incidents and purges expired history.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/marcus-qen/incidentd/internal/app"
	"github.com/marcus-qen/incidentd/internal/config"
	"github.com/marcus-qen/incidentd/internal/domains"
	"github.com/marcus-qen/incidentd/internal/metrics"
	"github.com/marcus-qen/incidentd/internal/scheduler"
	"github.com/marcus-qen/incidentd/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("INCIDENTD_CONFIG"), "path to the YAML config file")
	checkOnStart := flag.Bool("check-on-start", true, "evaluate every enabled domain once at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("invalid log level, using info", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, telemetry.TraceConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Version:     version,
	})
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}()

	sched := scheduler.New(zapr.NewLogger(logger), scheduler.DefaultConfig())
	if err := sched.Start(ctx, targets(a.Registry)); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	if *checkOnStart {
		go sched.RunChecks(ctx, targets(a.Registry))
	}

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, logger, func(next config.Config) {
				changed, err := a.Reload(next)
				if err != nil {
					logger.Error("reload failed", zap.Error(err))
					return
				}
				if changed {
					if err := sched.Reload(targets(a.Registry)); err != nil {
						logger.Error("scheduler reload failed", zap.Error(err))
					}
				}
			})
			if err != nil {
				logger.Error("config watcher stopped", zap.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Ping(pingCtx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("incidentd listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("version", version),
			zap.String("commit", commit),
			zap.String("built", date),
			zap.Strings("domains", a.Registry.Names()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduled jobs still running at shutdown")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}
}

func targets(r *domains.Registry) []scheduler.Target {
	services := r.Services()
	out := make([]scheduler.Target, 0, len(services))
	for _, s := range services {
		out = append(out, s)
	}
	return out
}

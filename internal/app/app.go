// Package app wires the configured stores, gate, directory and channels
// into the domain registry shared by incidentd and incidentctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marcus-qen/incidentd/internal/config"
	"github.com/marcus-qen/incidentd/internal/directory"
	"github.com/marcus-qen/incidentd/internal/domains"
	"github.com/marcus-qen/incidentd/internal/incident"
	"github.com/marcus-qen/incidentd/internal/incident/redisgate"
	"github.com/marcus-qen/incidentd/internal/incident/sqlstore"
	"github.com/marcus-qen/incidentd/internal/notify"
)

// App holds the long-lived components.
type App struct {
	Config    config.Config
	Store     *sqlstore.Store
	Gate      incident.CooldownGate
	Directory *directory.Static
	Router    *notify.Router
	Registry  *domains.Registry

	closers []func() error
	logger  *zap.Logger
}

// NewLogger builds a production zap logger at level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// New opens every backend named in cfg. Close releases them.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, logger: logger}

	if cfg.DB.DSN == "" {
		if d, _ := sqlstore.ParseDialect(cfg.DB.Driver); d == sqlstore.DialectSQLite {
			if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
	}
	store, err := sqlstore.Open(ctx, sqlstore.Options{Driver: cfg.DB.Driver, DSN: cfg.DatabaseDSN(), Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	switch cfg.GateBackend() {
	case config.GateSQL:
		a.Gate = store
	case config.GateMemory:
		// Left nil: the registry builds an in-process gate seeded from runs.
	case config.GateRedis:
		gate, err := redisgate.New(ctx, redisgate.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Gate = gate
		a.closers = append(a.closers, gate.Close)
		logger.Info("using redis cooldown gate", zap.String("addr", cfg.Redis.Addr))
	default:
		_ = a.Close()
		return nil, fmt.Errorf("unknown cooldown gate %q", cfg.GateBackend())
	}

	a.Router = notify.NewRouter(cfg.Notify.PerSecond, cfg.Notify.Burst, zapr.NewLogger(logger))
	a.Router.Register(notify.NewWebhookChannel(cfg.Webhook.URL, cfg.Webhook.Secret, nil))
	if cfg.HasKafka() {
		ch, err := notify.NewKafkaChannel(notify.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Router.Register(ch)
		a.closers = append(a.closers, ch.Close)
	}

	entries, err := cfg.DirectoryEntries()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Directory = directory.NewStatic(entries, a.Router.Channels())

	a.Registry, err = domains.NewRegistry(ctx, cfg, domains.Deps{
		Store:      store,
		Gate:       a.Gate,
		Resolver:   a.Directory,
		Dispatcher: a.Router,
		Logger:     logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Reload applies a reloaded config: domain sections and the recipient
// directory. Backends are not reopened. It reports whether a schedule
// changed.
func (a *App) Reload(cfg config.Config) (bool, error) {
	entries, err := cfg.DirectoryEntries()
	if err != nil {
		return false, err
	}
	a.Directory.Replace(entries, a.Router.Channels())
	a.Config = cfg
	return a.Registry.Apply(cfg), nil
}

// Ping checks every backend.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	if err := a.Store.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if g, ok := a.Gate.(*redisgate.Gate); ok {
		if err := g.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package scheduler runs the periodic alert evaluations and retention
// purges of every domain on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/marcus-qen/incidentd/internal/config"
	"github.com/marcus-qen/incidentd/internal/incident"
)

// Target is one domain the scheduler drives. *domains.Service implements it.
type Target interface {
	Name() string
	Settings() config.DomainConfig
	CheckAll(ctx context.Context) ([]incident.AlertCheckResult, error)
	PurgeRetention(ctx context.Context, policy *incident.RetentionPolicy, scopeID string) (incident.RetentionPurgeResult, error)
}

// Job kinds.
const (
	KindCheck = "check"
	KindPurge = "purge"
)

// Entry describes one registered job.
type Entry struct {
	Domain string
	Kind   string
	Spec   string
}

// Config configures the scheduler.
type Config struct {
	// CheckTimeout bounds one CheckAll run. Default: 2 minutes.
	CheckTimeout time.Duration
	// PurgeTimeout bounds one retention purge. Default: 30 minutes.
	PurgeTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{CheckTimeout: 2 * time.Minute, PurgeTimeout: 30 * time.Minute}
}

// Scheduler owns one cron runner. Overlapping runs of the same job are
// skipped and panics are recovered.
type Scheduler struct {
	log logr.Logger
	cfg Config

	mu      sync.Mutex
	cron    *cron.Cron
	entries []Entry
	ctx     context.Context
}

// New creates a Scheduler.
func New(log logr.Logger, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.PurgeTimeout <= 0 {
		cfg.PurgeTimeout = def.PurgeTimeout
	}
	return &Scheduler{log: log.WithName("scheduler"), cfg: cfg}
}

// Start registers the targets and starts running jobs. Jobs stop receiving
// a live context once ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, targets []Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx = ctx
	return s.install(targets)
}

// Reload replaces every job, for instance after a schedule changed.
// Jobs already running finish on their own.
func (s *Scheduler) Reload(targets []Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return fmt.Errorf("scheduler not started")
	}
	old := s.cron
	if err := s.install(targets); err != nil {
		return err
	}
	old.Stop()
	return nil
}

// Stop halts the cron runner and returns a context that is done once the
// running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := s.cron.Stop()
	s.cron = nil
	s.entries = nil
	s.log.Info("scheduler stopped")
	return done
}

// Entries returns the registered jobs.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// RunChecks evaluates every enabled target once, outside the schedule.
func (s *Scheduler) RunChecks(ctx context.Context, targets []Target) {
	for _, t := range targets {
		if !t.Settings().Alert.Enabled {
			continue
		}
		s.runCheck(ctx, t)
	}
}

// install builds a new cron runner; the caller holds s.mu.
func (s *Scheduler) install(targets []Target) error {
	c := cron.New(
		cron.WithLogger(s.log),
		cron.WithChain(cron.Recover(s.log), cron.SkipIfStillRunning(s.log)),
	)

	var entries []Entry
	for _, t := range targets {
		t := t
		settings := t.Settings()
		if settings.Alert.Enabled {
			if _, err := c.AddFunc(settings.Schedule, func() { s.runCheck(s.ctx, t) }); err != nil {
				return fmt.Errorf("domain %s: check schedule %q: %w", t.Name(), settings.Schedule, err)
			}
			entries = append(entries, Entry{Domain: t.Name(), Kind: KindCheck, Spec: settings.Schedule})
		}
		if settings.HasRetention() {
			if _, err := c.AddFunc(settings.PurgeSchedule, func() { s.runPurge(s.ctx, t) }); err != nil {
				return fmt.Errorf("domain %s: purge schedule %q: %w", t.Name(), settings.PurgeSchedule, err)
			}
			entries = append(entries, Entry{Domain: t.Name(), Kind: KindPurge, Spec: settings.PurgeSchedule})
		}
	}

	c.Start()
	s.cron = c
	s.entries = entries
	s.log.Info("scheduler started", "jobs", len(entries))
	return nil
}

func (s *Scheduler) runCheck(ctx context.Context, t Target) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	started := time.Now()
	results, err := t.CheckAll(ctx)
	published := 0
	for _, r := range results {
		published += r.PublishedCount
	}
	if err != nil {
		s.log.Error(err, "scheduled check failed", "domain", t.Name(), "evaluated", len(results))
		return
	}
	s.log.V(1).Info("scheduled check finished",
		"domain", t.Name(),
		"evaluated", len(results),
		"published", published,
		"duration", time.Since(started).String(),
	)
}

func (s *Scheduler) runPurge(ctx context.Context, t Target) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PurgeTimeout)
	defer cancel()

	res, err := t.PurgeRetention(ctx, nil, "")
	if err != nil {
		s.log.Error(err, "scheduled purge failed", "domain", t.Name())
		return
	}
	s.log.Info("scheduled purge finished",
		"domain", t.Name(),
		"deleted_samples", res.DeletedSamples,
		"deleted_runs", res.DeletedRuns,
	)
}

/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/marcus-qen/incidentd/internal/incident"
)

// Router dispatches notifications to the channel each recipient names.
// It implements incident.NotificationDispatcher.
type Router struct {
	mu       sync.RWMutex
	channels map[string]Channel
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
	log      logr.Logger
}

var _ incident.NotificationDispatcher = (*Router)(nil)

// NewRouter creates a router. perSecond <= 0 disables throttling; otherwise
// each channel gets its own token bucket.
func NewRouter(perSecond float64, burst int, log logr.Logger) *Router {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Router{
		channels: make(map[string]Channel),
		limiters: make(map[string]*rate.Limiter),
		perSec:   limit,
		burst:    burst,
		log:      log,
	}
}

// Register adds or replaces a channel under its Type.
func (r *Router) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Type()] = ch
	r.limiters[ch.Type()] = rate.NewLimiter(r.perSec, r.burst)
}

// Channels returns the registered channel types.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for t := range r.channels {
		out = append(out, t)
	}
	return out
}

// Dispatch implements incident.NotificationDispatcher. Throttled sends wait
// for a token until ctx expires.
func (r *Router) Dispatch(ctx context.Context, recipient incident.Recipient, n incident.Notification) error {
	r.mu.RLock()
	ch, ok := r.channels[recipient.Channel]
	limiter := r.limiters[recipient.Channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no channel %q registered for recipient %s", recipient.Channel, recipient.ID)
	}

	if err := limiter.Wait(ctx); err != nil {
		r.log.Info("notification throttled", "type", ch.Type(), "recipient", recipient.ID)
		return fmt.Errorf("throttled: %w", err)
	}

	if err := ch.Send(ctx, recipient, n); err != nil {
		r.log.Error(err, "notification failed", "type", ch.Type(), "recipient", recipient.ID, "notification", n.NotificationID)
		return err
	}
	r.log.V(1).Info("notification sent", "type", ch.Type(), "recipient", recipient.ID, "status", n.Status)
	return nil
}

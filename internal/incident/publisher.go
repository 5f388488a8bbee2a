package incident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marcus-qen/incidentd/internal/metrics"
	"github.com/marcus-qen/incidentd/internal/telemetry"
)

const defaultDispatchConcurrency = 4

// RecipientResolver looks up who should be told about an incident in a scope.
// A non-nil error together with recipients reports partial failures; the
// returned recipients are still used.
type RecipientResolver interface {
	Recipients(ctx context.Context, domain, scopeID string) ([]Recipient, error)
}

// NotificationDispatcher hands one notification to the external delivery
// system. A nil error means the notification was accepted. Dispatch should
// return once ctx is done; a call still running at the deadline is counted
// as failed and left to finish in the background.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, recipient Recipient, n Notification) error
}

// MessageData is what a domain template renders from.
type MessageData struct {
	Domain              string
	ScopeID             string
	Severity            string
	RatePercent         float64
	BaselineRatePercent *float64
	ErrorCount          int
	SampleCount         int
	ErrorScopeCount     int
	WindowHours         int
	WarningPercent      float64
	CriticalPercent     float64
	Reasons             []string
}

// MessageRenderer builds the domain-specific title and message.
type MessageRenderer interface {
	Render(data MessageData) (title, message string, err error)
}

// PublishRequest describes one accepted alert.
type PublishRequest struct {
	Domain     string
	ScopeID    string
	Severity   Severity
	Comparison Comparison
	Config     AlertConfig
	Reasons    []string
	Now        time.Time
}

// PublishOutcome reports what happened to one published alert.
type PublishOutcome struct {
	RecipientCount   int
	PublishedCount   int
	ResolutionFailed bool
	Errors           error
}

// Publisher resolves recipients and dispatches notifications.
type Publisher struct {
	resolver    RecipientResolver
	dispatcher  NotificationDispatcher
	renderer    MessageRenderer
	logger      *zap.Logger
	concurrency int
}

// NewPublisher creates a publisher. renderer may be nil, in which case a
// generic title and message are used.
func NewPublisher(resolver RecipientResolver, dispatcher NotificationDispatcher, renderer MessageRenderer, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		resolver:    resolver,
		dispatcher:  dispatcher,
		renderer:    renderer,
		logger:      logger,
		concurrency: defaultDispatchConcurrency,
	}
}

// Publish dispatches req to every resolved recipient. Failures never fail
// the run: they are logged, counted, and returned in PublishOutcome.Errors.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) PublishOutcome {
	var out PublishOutcome
	if p == nil || p.resolver == nil || p.dispatcher == nil {
		return out
	}

	recipients, err := p.resolver.Recipients(ctx, req.Domain, req.ScopeID)
	if err != nil {
		p.logger.Warn("recipient resolution failed",
			zap.String("domain", req.Domain),
			zap.String("scope_id", req.ScopeID),
			zap.Int("resolved", len(recipients)),
			zap.Error(err),
		)
		out.Errors = err
		if len(recipients) == 0 {
			out.ResolutionFailed = true
			return out
		}
	}
	out.RecipientCount = len(recipients)
	if len(recipients) == 0 {
		return out
	}

	title, message, err := p.render(req)
	if err != nil {
		p.logger.Warn("render alert message failed; using fallback", zap.String("domain", req.Domain), zap.Error(err))
		title, message = fallbackMessage(req)
	}

	var (
		mu        sync.Mutex
		published int
		errs      = []error{out.Errors}
	)
	g := errgroup.Group{}
	g.SetLimit(p.concurrency)
	for _, r := range recipients {
		g.Go(func() error {
			n := p.notification(req, r, title, message)
			if err := p.dispatchOne(ctx, req, r, n); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("recipient %s: %w", r.ID, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			published++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out.PublishedCount = published
	out.Errors = errors.Join(errs...)
	return out
}

func (p *Publisher) dispatchOne(ctx context.Context, req PublishRequest, r Recipient, n Notification) error {
	dctx, cancel := context.WithTimeout(ctx, req.Config.DispatchTimeout())
	defer cancel()

	dctx, span := telemetry.StartDispatchSpan(dctx, req.Domain, r.Channel, r.ID)
	done := make(chan error, 1)
	go func() { done <- p.dispatcher.Dispatch(dctx, r, n) }()

	var err error
	select {
	case err = <-done:
		if err == nil && dctx.Err() != nil {
			// Returned after the deadline: not confirmed in time.
			err = dctx.Err()
		}
	case <-dctx.Done():
		err = dctx.Err()
	}
	telemetry.EndDispatchSpan(span, err)

	if err != nil {
		metrics.RecordDispatchFailure(req.Domain, r.Channel)
		p.logger.Warn("notification dispatch failed",
			zap.String("domain", req.Domain),
			zap.String("scope_id", req.ScopeID),
			zap.String("recipient", r.ID),
			zap.String("channel", r.Channel),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (p *Publisher) render(req PublishRequest) (string, string, error) {
	if p.renderer == nil {
		title, message := fallbackMessage(req)
		return title, message, nil
	}
	return p.renderer.Render(messageData(req))
}

func (p *Publisher) notification(req PublishRequest, r Recipient, title, message string) Notification {
	return Notification{
		NotificationID:      uuid.NewString(),
		WorkspaceID:         r.WorkspaceID,
		Status:              req.Severity.String(),
		Title:               title,
		Message:             message,
		IncidentRatePercent: req.Comparison.CurrentRate,
		IncidentRuns:        req.Comparison.Current.ErrorCount,
		TotalRuns:           req.Comparison.Current.SampleCount,
		WarningRatePercent:  req.Config.WarningThresholdPercent,
		CriticalRatePercent: req.Config.CriticalThresholdPercent,
		CreatedAt:           req.Now.UTC(),
	}
}

func messageData(req PublishRequest) MessageData {
	return MessageData{
		Domain:              req.Domain,
		ScopeID:             req.ScopeID,
		Severity:            req.Severity.String(),
		RatePercent:         req.Comparison.CurrentRate,
		BaselineRatePercent: req.Comparison.BaselineRate,
		ErrorCount:          req.Comparison.Current.ErrorCount,
		SampleCount:         req.Comparison.Current.SampleCount,
		ErrorScopeCount:     req.Comparison.ErrorScopeCount,
		WindowHours:         req.Config.WindowHours,
		WarningPercent:      req.Config.WarningThresholdPercent,
		CriticalPercent:     req.Config.CriticalThresholdPercent,
		Reasons:             req.Reasons,
	}
}

func fallbackMessage(req PublishRequest) (string, string) {
	scope := req.ScopeID
	if scope == "" {
		scope = GlobalScope
	}
	title := fmt.Sprintf("%s %s incident", req.Domain, req.Severity)
	message := fmt.Sprintf("%s: %d of %d runs failed (%.2f%%) in the last %dh",
		scope,
		req.Comparison.Current.ErrorCount,
		req.Comparison.Current.SampleCount,
		req.Comparison.CurrentRate,
		req.Config.WindowHours,
	)
	return title, message
}

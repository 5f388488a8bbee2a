/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package notify hands incident notifications to the external delivery
// system. Each recipient names a channel; the Router looks the channel up,
// throttles it and reports whether the hand-off was accepted.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcus-qen/incidentd/internal/incident"
)

// SignatureHeader carries the HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Incidentd-Signature"

// Channel is the interface for all notification hand-off backends.
type Channel interface {
	// Send hands n off for recipient. A nil error means it was accepted.
	Send(ctx context.Context, recipient incident.Recipient, n incident.Notification) error

	// Type returns the channel type name recipients refer to.
	Type() string
}

// Payload is the JSON body delivered by every channel.
type Payload struct {
	RecipientID string `json:"recipientId"`
	Address     string `json:"address,omitempty"`
	incident.Notification
}

func newPayload(r incident.Recipient, n incident.Notification) Payload {
	return Payload{RecipientID: r.ID, Address: r.Address, Notification: n}
}

// --- Webhook ---

// WebhookChannel posts signed JSON notifications to an HTTP endpoint.
type WebhookChannel struct {
	URL     string
	Secret  string
	Headers map[string]string // optional auth headers
	client  *http.Client
}

// NewWebhookChannel creates a webhook channel. A recipient address that is
// an absolute URL overrides url.
func NewWebhookChannel(url, secret string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Secret:  secret,
		Headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookChannel) Type() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, r incident.Recipient, n incident.Notification) error {
	target := w.URL
	if isURL(r.Address) {
		target = r.Address
	}
	if target == "" {
		return fmt.Errorf("webhook: no endpoint for recipient %s", r.ID)
	}

	body, err := json.Marshal(newPayload(r, n))
	if err != nil {
		return fmt.Errorf("webhook encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Incidentd-Notification", n.NotificationID)
	if w.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.Secret, body))
	}
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func isURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}

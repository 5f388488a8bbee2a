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
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/marcus-qen/incidentd/internal/incident"
)

// messageWriter is the subset of *kafka.Writer the channel uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaChannel.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	MaxAttempts  int
}

// KafkaChannel publishes notifications to a topic consumed by the delivery
// service. Messages are keyed by workspace so one workspace stays ordered.
type KafkaChannel struct {
	writer messageWriter
	topic  string
}

// NewKafkaChannel creates a synchronous producer: Send returns only after the
// brokers acknowledged the message.
func NewKafkaChannel(cfg KafkaConfig) (*KafkaChannel, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka channel needs brokers and a topic")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // Partition by key
		BatchSize:    1,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false,
	}
	return &KafkaChannel{writer: w, topic: cfg.Topic}, nil
}

func (k *KafkaChannel) Type() string { return "kafka" }

func (k *KafkaChannel) Send(ctx context.Context, r incident.Recipient, n incident.Notification) error {
	body, err := json.Marshal(newPayload(r, n))
	if err != nil {
		return fmt.Errorf("kafka encode: %w", err)
	}
	key := n.WorkspaceID
	if key == "" {
		key = r.ID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  n.CreatedAt,
		Headers: []kafka.Header{
			{Key: "notification_id", Value: []byte(n.NotificationID)},
			{Key: "status", Value: []byte(n.Status)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaChannel) Close() error { return k.writer.Close() }

// Package events publishes build-run stage transitions to NATS JetStream so
// external systems (dashboards, chat notifiers) can follow release progress.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fhirops/igrelease/internal/config"
	"github.com/fhirops/igrelease/internal/logfields"
)

// StageEvent is the wire payload for one run transition.
type StageEvent struct {
	RunID     string    `json:"run_id"`
	Ref       string    `json:"ref,omitempty"`
	State     string    `json:"state"`
	Progress  int       `json:"progress"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers stage events. The no-op implementation is used when
// events are disabled in configuration.
type Publisher interface {
	Publish(ctx context.Context, ev StageEvent) error
	Close() error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, StageEvent) error { return nil }
func (NoopPublisher) Close() error                              { return nil }

// NATSPublisher publishes stage events to a JetStream subject.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewPublisher returns a NATS-backed publisher when events are enabled, and a
// NoopPublisher otherwise.
func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	if !cfg.Enabled {
		return NoopPublisher{}, nil
	}

	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	slog.Info("Stage event publisher initialized", logfields.URL(cfg.NATSURL), slog.String("subject", cfg.Subject))
	return &NATSPublisher{conn: conn, js: js, subject: cfg.Subject}, nil
}

// Publish sends one stage event. Failures are reported but callers treat them
// as non-fatal; event delivery never blocks a release.
func (p *NATSPublisher) Publish(ctx context.Context, ev StageEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.js.Publish(pubCtx, p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	slog.Debug("Published stage event",
		logfields.RunID(ev.RunID),
		slog.String("state", ev.State),
		logfields.Progress(ev.Progress))
	return nil
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

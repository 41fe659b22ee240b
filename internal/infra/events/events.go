// Package events publishes node events to external consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vietddude/nodepool/internal/core/domain"
)

var ErrClosed = errors.New("emitter closed")

// Emitter defines the interface for emitting node events
type Emitter interface {
	Emit(ctx context.Context, event domain.NodeEvent) error
	Close() error
}

// Config holds NATS publisher configuration.
type Config struct {
	URL string `yaml:"url"`
	// Subject prefix; events go to <prefix>.<group>.<type>.
	Subject string `yaml:"subject"`
}

// Publisher is the subset of *nats.Conn the emitter needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSEmitter publishes events as JSON on core NATS subjects.
type NATSEmitter struct {
	pub     Publisher
	conn    *nats.Conn
	subject string

	mu     sync.Mutex
	closed bool
}

// NewNATSEmitter connects to cfg.URL. The connection keeps retrying in the
// background, so a NATS outage never blocks startup.
func NewNATSEmitter(cfg Config) (*NATSEmitter, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url,
		nats.Name("nodepool"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	e := NewEmitter(conn, cfg.Subject)
	e.conn = conn
	return e, nil
}

// NewEmitter publishes through an existing connection.
func NewEmitter(pub Publisher, subject string) *NATSEmitter {
	if subject == "" {
		subject = "nodepool"
	}
	return &NATSEmitter{pub: pub, subject: subject}
}

// Subject returns the subject event is published on.
func (e *NATSEmitter) Subject(event domain.NodeEvent) string {
	return fmt.Sprintf("%s.%s.%s", e.subject, event.Group, event.Type)
}

func (e *NATSEmitter) Emit(ctx context.Context, event domain.NodeEvent) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := e.pub.Publish(e.Subject(event), data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// Close drains the connection when the emitter owns it.
func (e *NATSEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.conn != nil {
		return e.conn.Drain()
	}
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, domain.NodeEvent) error { return nil }
func (Nop) Close() error                                 { return nil }

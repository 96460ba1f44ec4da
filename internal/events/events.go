// Package events publishes one NATS message per engine run.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event types.
const (
	TypeCompleted = "generation.completed"
	TypeFailed    = "generation.failed"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "srcgenhost.generation"

// Event is the JSON payload of a run notification.
type Event struct {
	Type          string    `json:"type"`
	RunID         string    `json:"run_id"`
	Project       string    `json:"project"`
	Configuration string    `json:"configuration"`
	Status        string    `json:"status"`
	DurationMS    int64     `json:"duration_ms"`
	Paths         []string  `json:"paths,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Publisher sends run events. A nil *Publisher discards them.
type Publisher struct {
	conn    conn
	subject string
	logger  *slog.Logger
}

// Connect dials url and returns a publisher for subject.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("srcgenhost"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p := newPublisher(nc, subject, logger)
	p.logger.Info("NATS publisher initialized", slog.String("url", url), slog.String("subject", p.subject))
	return p, nil
}

func newPublisher(c conn, subject string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: c, subject: subject, logger: logger}
}

// Publish sends e on the configured subject.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if p == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	p.logger.Debug("Published generation event", slog.String("type", e.Type), slog.String("run_id", e.RunID))
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Close()
}

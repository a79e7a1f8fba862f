// Package events delivers lifecycle intents to the outside world.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ldi/tend/internal/lifecycle"
	"github.com/ldi/tend/pkg/models"
)

const DefaultSubjectPrefix = "tend.intents"

var (
	_ lifecycle.Sink = (*LogSink)(nil)
	_ lifecycle.Sink = (*NATSSink)(nil)
	_ lifecycle.Sink = MultiSink(nil)
)

// LogSink writes each intent as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, intents []models.Intent) error {
	for _, in := range intents {
		attrs := []any{"kind", in.Kind, "task_id", in.TaskID, "owner_id", in.OwnerID, "at", in.At}
		for k, v := range in.Detail {
			attrs = append(attrs, k, v)
		}
		s.logger.InfoContext(ctx, "intent", attrs...)
	}
	return nil
}

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every intent as JSON on <prefix>.<kind>.
type NATSSink struct {
	pub    Publisher
	prefix string
}

func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

// Subject returns the subject an intent of this kind is published on.
func (s *NATSSink) Subject(kind models.IntentKind) string {
	return s.prefix + "." + string(kind)
}

// Emit publishes every intent and reports all failures together; one
// failed publish does not stop the rest.
func (s *NATSSink) Emit(ctx context.Context, intents []models.Intent) error {
	var errs []error
	for _, in := range intents {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, fmt.Errorf("context cancelled before publish: %w", err))...)
		}
		data, err := json.Marshal(in)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s intent for %s: %w", in.Kind, in.TaskID, err))
			continue
		}
		if err := s.pub.Publish(s.Subject(in.Kind), data); err != nil {
			errs = append(errs, fmt.Errorf("publish %s intent for %s: %w", in.Kind, in.TaskID, err))
		}
	}
	return errors.Join(errs...)
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// MultiSink fans intents out to several sinks.
type MultiSink []lifecycle.Sink

func (m MultiSink) Emit(ctx context.Context, intents []models.Intent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, intents); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

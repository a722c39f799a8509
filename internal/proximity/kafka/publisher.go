// Package kafka connects the proximity engine to Kafka: alerts are published
// to one topic and observer positions are consumed from another.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bissquit/hazard-watch/internal/proximity"
	kafkago "github.com/segmentio/kafka-go"
)

// Config contains Kafka connection settings.
type Config struct {
	Brokers        []string
	AlertsTopic    string
	PositionsTopic string
	GroupID        string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// alertBatchTimeout caps how long a write waits for a batch to fill. The
// kafka-go default of one second would stall every alert.
const alertBatchTimeout = 10 * time.Millisecond

// Publisher produces proximity alerts to the alerts topic.
// It implements proximity.AlertSink.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a Kafka producer for the alerts topic.
func NewPublisher(cfg Config) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.AlertsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: alertBatchTimeout,
	}
	return &Publisher{writer: w}
}

// Send publishes the alert keyed by session ID so alerts of one observer
// stay ordered within a partition.
func (p *Publisher) Send(ctx context.Context, alert proximity.Alert) error {
	msg, err := serializeAlert(alert)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func serializeAlert(alert proximity.Alert) (kafkago.Message, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(alert.SessionID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "incident_id", Value: []byte(strconv.FormatInt(alert.IncidentID, 10))},
			{Key: "raised_at", Value: []byte(alert.RaisedAt.Format(time.RFC3339))},
		},
	}, nil
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/hazard-watch/internal/proximity"
	kafkago "github.com/segmentio/kafka-go"
)

const fetchRetryDelay = time.Second

// PositionMessage is a position report read from the positions topic.
// Available=false reports that the observer lost its fix.
type PositionMessage struct {
	ObserverID string  `json:"observer_id"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Available  *bool   `json:"available,omitempty"`
}

// PositionReporter receives decoded position reports.
type PositionReporter interface {
	Acquire(id string) (*proximity.Session, bool)
	ReportPosition(ctx context.Context, id string, pos proximity.Position) ([]proximity.Alert, error)
	ReportUnavailable(id string) (*proximity.Session, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// PositionConsumer feeds observer positions from Kafka into the registry.
type PositionConsumer struct {
	reader   messageReader
	reporter PositionReporter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPositionConsumer creates a consumer group reader for the positions topic.
func NewPositionConsumer(cfg Config, reporter PositionReporter) *PositionConsumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.PositionsTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	return newPositionConsumer(r, reporter)
}

func newPositionConsumer(reader messageReader, reporter PositionReporter) *PositionConsumer {
	return &PositionConsumer{
		reader:   reader,
		reporter: reporter,
	}
}

// Start launches the consume loop.
func (c *PositionConsumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	slog.Info("starting position consumer")
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop ends the consume loop and closes the reader.
func (c *PositionConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	slog.Info("position consumer stopped")
	return c.reader.Close()
}

func (c *PositionConsumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to fetch position message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			slog.Warn("position message skipped",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Error("failed to commit position message", "offset", msg.Offset, "error", err)
		}
	}
}

// handle applies one message. Malformed messages are reported and skipped.
func (c *PositionConsumer) handle(ctx context.Context, msg kafkago.Message) error {
	pm, err := decodePosition(msg)
	if err != nil {
		return err
	}

	if _, created := c.reporter.Acquire(pm.ObserverID); created {
		slog.Debug("observer session opened from position feed", "session_id", pm.ObserverID)
	}

	if pm.Available != nil && !*pm.Available {
		_, err := c.reporter.ReportUnavailable(pm.ObserverID)
		return err
	}

	_, err = c.reporter.ReportPosition(ctx, pm.ObserverID, proximity.Position{Lat: pm.Latitude, Lon: pm.Longitude})
	return err
}

func decodePosition(msg kafkago.Message) (PositionMessage, error) {
	var pm PositionMessage
	if err := json.Unmarshal(msg.Value, &pm); err != nil {
		return pm, fmt.Errorf("decode position: %w", err)
	}
	if pm.ObserverID == "" {
		pm.ObserverID = string(msg.Key)
	}
	if pm.ObserverID == "" {
		return pm, errors.New("decode position: observer_id is required")
	}
	return pm, nil
}

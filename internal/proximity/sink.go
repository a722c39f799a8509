package proximity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bissquit/hazard-watch/internal/pkg/ctxlog"
)

// LogSink writes alerts to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Send logs the alert.
func (s *LogSink) Send(ctx context.Context, alert Alert) error {
	s.logger.InfoContext(ctx, "proximity alert",
		"session_id", alert.SessionID,
		"incident_id", alert.IncidentID,
		"distance_km", alert.DistanceKm,
		"description", alert.Description,
	)
	return nil
}

// MultiSink fans an alert out to several sinks.
type MultiSink struct {
	sinks []AlertSink
}

// NewMultiSink creates a fan-out sink. Nil sinks are skipped.
func NewMultiSink(sinks ...AlertSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Send delivers the alert to every sink and joins their errors.
func (m *MultiSink) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deliver sends alerts to sink. Delivery failures are logged and counted but
// never undo the alert: the incident stays in the alerted set.
func deliver(ctx context.Context, sink AlertSink, alerts []Alert) {
	for _, alert := range alerts {
		recordAlertRaised()
		if sink == nil {
			continue
		}
		send(ctx, sink, alert)
	}
}

func send(ctx context.Context, sink AlertSink, alert Alert) {
	if err := sink.Send(ctx, alert); err != nil {
		recordDeliveryFailure()
		ctxlog.FromContext(ctx).Error("failed to deliver proximity alert",
			"session_id", alert.SessionID,
			"incident_id", alert.IncidentID,
			"error", err,
		)
	}
}

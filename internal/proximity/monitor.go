// Package proximity alerts observers once per entry into the radius of an
// open road incident.
package proximity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultAlertRadiusKm is the alert radius used when none is configured.
const DefaultAlertRadiusKm = 1.0

// MonitorConfig contains monitor configuration.
type MonitorConfig struct {
	SessionID       string
	AlertRadiusKm   float64
	RefreshInterval time.Duration
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SessionID:       "local",
		AlertRadiusKm:   DefaultAlertRadiusKm,
		RefreshInterval: 10 * time.Second,
	}
}

// Option configures a Monitor or Registry.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock overrides the clock driving tickers and alert timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func applyOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Monitor polls a position provider and the incident set on a fixed interval
// and raises alerts for a single observer session.
type Monitor struct {
	config   MonitorConfig
	lister   IncidentLister
	provider PositionProvider
	sink     AlertSink
	clock    clockwork.Clock
	session  *Session

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a new proximity monitor.
func NewMonitor(config MonitorConfig, lister IncidentLister, provider PositionProvider, sink AlertSink, opts ...Option) *Monitor {
	defaults := DefaultMonitorConfig()
	if config.SessionID == "" {
		config.SessionID = defaults.SessionID
	}
	if config.AlertRadiusKm <= 0 {
		config.AlertRadiusKm = defaults.AlertRadiusKm
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaults.RefreshInterval
	}

	o := applyOptions(opts)
	return &Monitor{
		config:   config,
		lister:   lister,
		provider: provider,
		sink:     sink,
		clock:    o.clock,
		session:  NewSession(config.SessionID, config.AlertRadiusKm),
		stopCh:   make(chan struct{}),
	}
}

// Session returns the monitored session.
func (m *Monitor) Session() *Session {
	return m.session
}

// Start runs a refresh immediately and then on every tick until ctx is done
// or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	slog.Info("starting proximity monitor",
		"session_id", m.config.SessionID,
		"radius_km", m.config.AlertRadiusKm,
		"refresh_interval", m.config.RefreshInterval,
	)

	m.wg.Add(1)
	go m.run(ctx)
}

// Stop stops the refresh loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	slog.Info("proximity monitor stopped", "session_id", m.config.SessionID)
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.config.RefreshInterval)
	defer ticker.Stop()

	m.refreshLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.Chan():
			m.refreshLogged(ctx)
		}
	}
}

func (m *Monitor) refreshLogged(ctx context.Context) {
	if _, err := m.Refresh(ctx); err != nil && !errors.Is(err, ErrPositionUnavailable) {
		slog.Warn("proximity refresh skipped", "session_id", m.config.SessionID, "error", err)
	}
}

// Refresh runs one cycle: fetch a position, list incidents and raise alerts.
// A positioning failure moves the session to idle. A listing failure skips
// the cycle and keeps the session as is.
func (m *Monitor) Refresh(ctx context.Context) ([]Alert, error) {
	pos, err := m.provider.CurrentPosition(ctx)
	if err == nil && !pos.Valid() {
		err = ErrInvalidPosition
	}
	if err != nil {
		if m.session.State() == StateTracking {
			slog.Info("position lost, alerting paused", "session_id", m.config.SessionID, "error", err)
		}
		m.session.PositionUnavailable()
		recordRefreshFailure("position")
		if errors.Is(err, ErrPositionUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPositionUnavailable, err)
	}

	return m.PositionChanged(ctx, pos)
}

// PositionChanged records a new fix and evaluates it against the current
// incident set without waiting for the next tick.
func (m *Monitor) PositionChanged(ctx context.Context, pos Position) ([]Alert, error) {
	if err := m.session.UpdatePosition(pos); err != nil {
		return nil, err
	}
	return evaluate(ctx, m.session, m.lister, m.sink, m.clock.Now())
}

// evaluate lists incidents, scores them for session and delivers new alerts.
func evaluate(ctx context.Context, session *Session, lister IncidentLister, sink AlertSink, now time.Time) ([]Alert, error) {
	session.evalMu.Lock()
	defer session.evalMu.Unlock()

	list, err := lister.List(ctx)
	if err != nil {
		recordRefreshFailure("list")
		return nil, fmt.Errorf("%w: %w", ErrIncidentsUnavailable, err)
	}

	alerts := session.Evaluate(list, now)
	deliver(ctx, sink, alerts)
	return alerts, nil
}

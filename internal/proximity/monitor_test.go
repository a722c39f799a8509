package proximity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/hazard-watch/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitor_Defaults(t *testing.T) {
	m := NewMonitor(MonitorConfig{}, &stubLister{}, newStubProvider(observerPos), nil)

	assert.Equal(t, DefaultMonitorConfig(), m.config)
	assert.Equal(t, DefaultAlertRadiusKm, m.Session().RadiusKm())
	assert.Equal(t, StateIdle, m.Session().State())
}

func TestMonitor_Refresh_AlertsOncePerEntry(t *testing.T) {
	ctx := context.Background()
	lister := &stubLister{list: []domain.Incident{openIncident(1, observerPos.Lat, observerPos.Lon)}}
	provider := newStubProvider(observerPos)
	sink := newRecordingSink()
	m := NewMonitor(MonitorConfig{SessionID: "car-1"}, lister, provider, sink)

	alerts, err := m.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "car-1", alerts[0].SessionID)

	for i := 0; i < 5; i++ {
		alerts, err = m.Refresh(ctx)
		require.NoError(t, err)
		assert.Empty(t, alerts)
	}

	provider.set(farPos, nil)
	_, err = m.Refresh(ctx)
	require.NoError(t, err)

	provider.set(observerPos, nil)
	alerts, err = m.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	assert.Equal(t, 2, sink.count())
}

func TestMonitor_Refresh_PositionUnavailable(t *testing.T) {
	ctx := context.Background()
	lister := &stubLister{list: []domain.Incident{openIncident(1, observerPos.Lat, observerPos.Lon)}}
	provider := newStubProvider(observerPos)
	sink := newRecordingSink()
	m := NewMonitor(MonitorConfig{}, lister, provider, sink)

	_, err := m.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, StateTracking, m.Session().State())

	provider.set(Position{}, errors.New("permission denied"))
	alerts, err := m.Refresh(ctx)
	assert.ErrorIs(t, err, ErrPositionUnavailable)
	assert.Empty(t, alerts)
	assert.Equal(t, StateIdle, m.Session().State())

	// Regaining a fix inside the same radius does not alert again.
	provider.set(observerPos, nil)
	alerts, err = m.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 1, sink.count())
}

func TestMonitor_Refresh_InvalidProviderPosition(t *testing.T) {
	m := NewMonitor(MonitorConfig{}, &stubLister{}, newStubProvider(Position{Lat: 95, Lon: 0}), nil)

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrPositionUnavailable)
	assert.ErrorIs(t, err, ErrInvalidPosition)
	assert.Equal(t, StateIdle, m.Session().State())
}

func TestMonitor_Refresh_ListFailureSkipsCycle(t *testing.T) {
	ctx := context.Background()
	lister := &stubLister{err: errors.New("connection refused")}
	provider := newStubProvider(observerPos)
	sink := newRecordingSink()
	m := NewMonitor(MonitorConfig{}, lister, provider, sink)

	alerts, err := m.Refresh(ctx)
	assert.ErrorIs(t, err, ErrIncidentsUnavailable)
	assert.Empty(t, alerts)
	assert.Equal(t, StateTracking, m.Session().State())

	lister.set([]domain.Incident{openIncident(1, observerPos.Lat, observerPos.Lon)}, nil)
	alerts, err = m.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestMonitor_SinkFailureDoesNotReAlert(t *testing.T) {
	ctx := context.Background()
	lister := &stubLister{list: []domain.Incident{openIncident(1, observerPos.Lat, observerPos.Lon)}}
	sink := newRecordingSink()
	sink.err = errors.New("display unavailable")
	m := NewMonitor(MonitorConfig{}, lister, newStubProvider(observerPos), sink)

	alerts, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	alerts, err = m.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 1, sink.count())
}

func TestMonitor_PositionChanged(t *testing.T) {
	ctx := context.Background()
	lister := &stubLister{list: []domain.Incident{openIncident(1, observerPos.Lat, observerPos.Lon)}}
	m := NewMonitor(MonitorConfig{}, lister, newStubProvider(farPos), nil)

	alerts, err := m.PositionChanged(ctx, observerPos)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	_, err = m.PositionChanged(ctx, Position{Lat: -100, Lon: 0})
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestMonitor_StartRefreshesOnTick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	lister := &stubLister{list: []domain.Incident{openIncident(1, observerPos.Lat, observerPos.Lon)}}
	provider := newStubProvider(observerPos)
	sink := newRecordingSink()

	m := NewMonitor(MonitorConfig{RefreshInterval: 10 * time.Second}, lister, provider, sink, WithClock(clock))
	m.Start(ctx)

	// Immediate refresh on start.
	provider.waitCall(t)
	first := sink.next(t)
	assert.Equal(t, clock.Now(), first.RaisedAt)

	provider.set(farPos, nil)
	clock.Advance(10 * time.Second)
	provider.waitCall(t)

	provider.set(observerPos, nil)
	clock.Advance(10 * time.Second)
	provider.waitCall(t)
	sink.next(t)

	clock.Advance(10 * time.Second)
	provider.waitCall(t)

	m.Stop()
	assert.Equal(t, 2, sink.count())
}

func TestMonitor_StopWithoutTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	provider := newStubProvider(observerPos)
	m := NewMonitor(MonitorConfig{}, &stubLister{}, provider, nil, WithClock(clock))

	m.Start(context.Background())
	provider.waitCall(t)

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestMonitor_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()
	provider := newStubProvider(observerPos)
	m := NewMonitor(MonitorConfig{}, &stubLister{}, provider, nil, WithClock(clock))

	m.Start(ctx)
	provider.waitCall(t)
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
}

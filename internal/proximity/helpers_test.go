package proximity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/hazard-watch/internal/domain"
)

var (
	// Paris city hall.
	observerPos = Position{Lat: 48.8566, Lon: 2.3522}
	// About 5 km north.
	farPos = Position{Lat: 48.9016, Lon: 2.3522}
)

func openIncident(id int64, lat, lon float64) domain.Incident {
	return domain.Incident{
		ID:          id,
		Description: "pothole",
		Latitude:    lat,
		Longitude:   lon,
		Date:        time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Status:      domain.IncidentStatusOpen,
	}
}

type stubLister struct {
	mu   sync.Mutex
	list []domain.Incident
	err  error
}

func (l *stubLister) List(_ context.Context) ([]domain.Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	out := make([]domain.Incident, len(l.list))
	copy(out, l.list)
	return out, nil
}

func (l *stubLister) set(list []domain.Incident, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = list
	l.err = err
}

type stubProvider struct {
	mu    sync.Mutex
	pos   Position
	err   error
	calls chan struct{}
}

func newStubProvider(pos Position) *stubProvider {
	return &stubProvider{pos: pos, calls: make(chan struct{}, 64)}
}

func (p *stubProvider) CurrentPosition(_ context.Context) (Position, error) {
	p.mu.Lock()
	pos, err := p.pos, p.err
	p.mu.Unlock()

	select {
	case p.calls <- struct{}{}:
	default:
	}
	return pos, err
}

func (p *stubProvider) set(pos Position, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
	p.err = err
}

func (p *stubProvider) waitCall(t *testing.T) {
	t.Helper()
	select {
	case <-p.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("position provider was not called")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
	ch     chan Alert
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan Alert, 64)}
}

func (s *recordingSink) Send(_ context.Context, alert Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	err := s.err
	s.mu.Unlock()

	select {
	case s.ch <- alert:
	default:
	}
	return err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func (s *recordingSink) next(t *testing.T) Alert {
	t.Helper()
	select {
	case a := <-s.ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered")
		return Alert{}
	}
}

package proximity

import (
	"math"
	"sync"
	"time"

	"github.com/bissquit/hazard-watch/internal/domain"
	"github.com/bissquit/hazard-watch/internal/geo"
)

// State is the tracking state of an observer session.
type State string

// Session states.
const (
	StateIdle     State = "idle"
	StateTracking State = "tracking"
)

// Position is an observer location.
type Position = geo.Point

// Alert is raised once per entry of an observer into the radius of an open incident.
type Alert struct {
	SessionID   string    `json:"session_id"`
	IncidentID  int64     `json:"incident_id"`
	Description string    `json:"description"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	DistanceKm  float64   `json:"distance_km"`
	RaisedAt    time.Time `json:"raised_at"`
}

// Session holds the position of one observer and the incidents it has
// already been alerted about. It is safe for concurrent use.
type Session struct {
	id       string
	radiusKm float64

	// evalMu serializes list-and-evaluate cycles so an evaluation built
	// from an older incident list cannot finish after a newer one.
	evalMu sync.Mutex

	mu       sync.Mutex
	state    State
	position Position
	alerted  map[int64]struct{}
}

// NewSession creates an idle session alerting within radiusKm.
func NewSession(id string, radiusKm float64) *Session {
	return &Session{
		id:       id,
		radiusKm: radiusKm,
		state:    StateIdle,
		alerted:  make(map[int64]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// RadiusKm returns the alert radius.
func (s *Session) RadiusKm() float64 {
	return s.radiusKm
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Position returns the last known position. ok is false while idle.
func (s *Session) Position() (pos Position, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position, s.state == StateTracking
}

// UpdatePosition records a new fix and moves the session to tracking.
func (s *Session) UpdatePosition(pos Position) error {
	if !pos.Valid() {
		return ErrInvalidPosition
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = pos
	s.state = StateTracking
	return nil
}

// PositionUnavailable moves the session to idle. The alerted set is kept so
// regaining a fix inside the same radius does not alert again.
func (s *Session) PositionUnavailable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
}

// Alerted reports whether an alert for incidentID is currently suppressed.
func (s *Session) Alerted(incidentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.alerted[incidentID]
	return ok
}

// Evaluate scores the incident set against the current position and returns
// alerts for open incidents the observer has just come within range of.
// Incidents left behind, resolved or removed are re-armed. An idle session
// returns no alerts and leaves the alerted set untouched.
func (s *Session) Evaluate(list []domain.Incident, now time.Time) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateTracking {
		return nil
	}

	var alerts []Alert
	near := make(map[int64]struct{}, len(s.alerted))

	for i := range list {
		inc := &list[i]
		if !inc.IsOpen() {
			continue
		}

		dist := geo.DistanceKm(s.position.Lat, s.position.Lon, inc.Latitude, inc.Longitude)
		if math.IsNaN(dist) || dist >= s.radiusKm {
			continue
		}

		near[inc.ID] = struct{}{}
		if _, done := s.alerted[inc.ID]; done {
			continue
		}

		alerts = append(alerts, Alert{
			SessionID:   s.id,
			IncidentID:  inc.ID,
			Description: inc.Description,
			Latitude:    inc.Latitude,
			Longitude:   inc.Longitude,
			DistanceKm:  dist,
			RaisedAt:    now,
		})
	}

	s.alerted = near
	return alerts
}

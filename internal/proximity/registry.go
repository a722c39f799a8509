package proximity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// RegistryConfig contains registry configuration.
type RegistryConfig struct {
	AlertRadiusKm   float64
	SessionTTL      time.Duration
	JanitorInterval time.Duration
}

// DefaultRegistryConfig returns default registry configuration.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		AlertRadiusKm:   DefaultAlertRadiusKm,
		SessionTTL:      30 * time.Minute,
		JanitorInterval: time.Minute,
	}
}

type registryEntry struct {
	session  *Session
	lastSeen time.Time
}

// Registry holds server-side observer sessions fed by polling clients or a
// position stream. Sessions live in memory only.
type Registry struct {
	config RegistryConfig
	lister IncidentLister
	sink   AlertSink
	clock  clockwork.Clock

	mu       sync.Mutex
	sessions map[string]*registryEntry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry creates a new session registry.
func NewRegistry(config RegistryConfig, lister IncidentLister, sink AlertSink, opts ...Option) *Registry {
	defaults := DefaultRegistryConfig()
	if config.AlertRadiusKm <= 0 {
		config.AlertRadiusKm = defaults.AlertRadiusKm
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = defaults.SessionTTL
	}
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = defaults.JanitorInterval
	}

	o := applyOptions(opts)
	return &Registry{
		config:   config,
		lister:   lister,
		sink:     sink,
		clock:    o.clock,
		sessions: make(map[string]*registryEntry),
		stopCh:   make(chan struct{}),
	}
}

// Open creates an idle session with a random ID.
func (r *Registry) Open() *Session {
	session, _ := r.openWithID(uuid.NewString())
	return session
}

// Acquire returns the session with the given ID, opening it if needed.
// created reports whether a new session was opened.
func (r *Registry) Acquire(id string) (session *Session, created bool) {
	return r.openWithID(id)
}

func (r *Registry) openWithID(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[id]; ok {
		e.lastSeen = r.clock.Now()
		return e.session, false
	}

	session := NewSession(id, r.config.AlertRadiusKm)
	r.sessions[id] = &registryEntry{session: session, lastSeen: r.clock.Now()}
	setActiveSessions(len(r.sessions))
	return session, true
}

// Get returns a session by ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// Close removes a session.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	setActiveSessions(len(r.sessions))
	return nil
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ReportPosition records a fix for the session and returns the alerts it
// raised. The position is kept even when the incident list cannot be read;
// the next report evaluates it.
func (r *Registry) ReportPosition(ctx context.Context, id string, pos Position) ([]Alert, error) {
	if !pos.Valid() {
		return nil, ErrInvalidPosition
	}

	session, err := r.touch(id)
	if err != nil {
		return nil, err
	}

	if err := session.UpdatePosition(pos); err != nil {
		return nil, err
	}
	return evaluate(ctx, session, r.lister, r.sink, r.clock.Now())
}

// ReportUnavailable moves the session to idle.
func (r *Registry) ReportUnavailable(id string) (*Session, error) {
	session, err := r.touch(id)
	if err != nil {
		return nil, err
	}
	session.PositionUnavailable()
	return session, nil
}

func (r *Registry) touch(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = r.clock.Now()
	return e.session, nil
}

// Start launches the janitor that drops sessions not seen within SessionTTL.
func (r *Registry) Start(ctx context.Context) {
	slog.Info("starting proximity session janitor",
		"session_ttl", r.config.SessionTTL,
		"interval", r.config.JanitorInterval,
	)

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop stops the janitor and waits for it to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	slog.Info("proximity session janitor stopped")
}

func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clock.NewTicker(r.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.Chan():
			if n := r.expire(); n > 0 {
				slog.Debug("expired proximity sessions", "count", n)
			}
		}
	}
}

func (r *Registry) expire() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().Add(-r.config.SessionTTL)
	expired := 0
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			expired++
		}
	}
	if expired > 0 {
		setActiveSessions(len(r.sessions))
	}
	return expired
}

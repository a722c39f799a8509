package incidents

import (
	"context"

	"github.com/bissquit/hazard-watch/internal/domain"
)

// Repository defines the interface for incident storage.
//
// Implementations serialize mutations per store instance and never expose a
// partially applied change to readers. Medium failures are reported wrapped
// in ErrStorage.
type Repository interface {
	// Create validates the incident, assigns a fresh ID and persists it.
	// Status defaults to open.
	Create(ctx context.Context, incident *domain.Incident) error
	List(ctx context.Context) ([]domain.Incident, error)
	Get(ctx context.Context, id int64) (*domain.Incident, error)
	UpdateStatus(ctx context.Context, id int64, status domain.IncidentStatus) (*domain.Incident, error)
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// Cache is notified after every successful mutation so cached incident lists
// can be dropped.
type Cache interface {
	Invalidate(ctx context.Context) error
}

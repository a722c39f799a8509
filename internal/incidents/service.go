package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/bissquit/hazard-watch/internal/domain"
	"github.com/bissquit/hazard-watch/internal/geo"
	"github.com/bissquit/hazard-watch/internal/pkg/ctxlog"
	"github.com/bissquit/hazard-watch/internal/pkg/metrics"
)

// Service implements incident business logic.
type Service struct {
	repo  Repository
	cache Cache
}

// NewService creates a new incident service. cache may be nil.
func NewService(repo Repository, cache Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// CreateIncidentInput holds data for reporting an incident.
type CreateIncidentInput struct {
	Description string
	Latitude    float64
	Longitude   float64
	Date        time.Time
}

// ListFilter narrows the incident list.
type ListFilter struct {
	Status   *domain.IncidentStatus
	Near     *geo.Point
	RadiusKm float64
}

// Create validates and persists a new incident report.
func (s *Service) Create(ctx context.Context, input CreateIncidentInput) (*domain.Incident, error) {
	incident := &domain.Incident{
		Description: NormalizeDescription(input.Description),
		Latitude:    input.Latitude,
		Longitude:   input.Longitude,
		// Postgres keeps microseconds; truncating here makes both drivers
		// return the date exactly as it was stored.
		Date:        input.Date.UTC().Truncate(time.Microsecond),
		Status:      domain.IncidentStatusOpen,
	}

	if err := ValidateIncident(incident); err != nil {
		recordOperation("create", err)
		return nil, err
	}

	if err := s.repo.Create(ctx, incident); err != nil {
		recordOperation("create", err)
		return nil, fmt.Errorf("create incident: %w", err)
	}
	recordOperation("create", nil)

	s.invalidate(ctx)

	ctxlog.FromContext(ctx).Info("incident reported",
		"incident_id", incident.ID,
		"latitude", incident.Latitude,
		"longitude", incident.Longitude,
	)
	return incident, nil
}

// List returns incidents matching the filter, ordered by ID.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.Incident, error) {
	if filter.Status != nil {
		if err := ValidateStatus(*filter.Status); err != nil {
			return nil, err
		}
	}
	if filter.Near != nil {
		if !filter.Near.Valid() {
			return nil, &ValidationError{Field: "near", Reason: "coordinates out of range"}
		}
		if filter.RadiusKm <= 0 || math.IsNaN(filter.RadiusKm) {
			return nil, &ValidationError{Field: "radius_km", Reason: "must be positive"}
		}
	}

	all, err := s.repo.List(ctx)
	recordOperation("list", err)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	result := make([]domain.Incident, 0, len(all))
	for _, incident := range all {
		if filter.Status != nil && incident.Status != *filter.Status {
			continue
		}
		if filter.Near != nil {
			d := filter.Near.DistanceTo(geo.Point{Lat: incident.Latitude, Lon: incident.Longitude})
			if math.IsNaN(d) || d > filter.RadiusKm {
				continue
			}
		}
		result = append(result, incident)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Incident, error) {
	incident, err := s.repo.Get(ctx, id)
	recordOperation("get", err)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// UpdateStatus changes the status of an incident. No other field changes.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status domain.IncidentStatus) (*domain.Incident, error) {
	if err := ValidateStatus(status); err != nil {
		recordOperation("update_status", err)
		return nil, err
	}

	incident, err := s.repo.UpdateStatus(ctx, id, status)
	recordOperation("update_status", err)
	if err != nil {
		return nil, fmt.Errorf("update incident status: %w", err)
	}

	s.invalidate(ctx)

	ctxlog.FromContext(ctx).Info("incident status updated", "incident_id", id, "status", status)
	return incident, nil
}

// Delete permanently removes an incident.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.repo.Delete(ctx, id)
	recordOperation("delete", err)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}

	s.invalidate(ctx)

	ctxlog.FromContext(ctx).Info("incident deleted", "incident_id", id)
	return nil
}

// Ping checks that the underlying storage is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to invalidate incident cache", "error", err)
	}
}

func recordOperation(op string, err error) {
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidIncident):
		result = "invalid"
	case errors.Is(err, ErrIncidentNotFound):
		result = "not_found"
	default:
		result = "error"
		slog.Debug("incident operation failed", "op", op, "error", err)
	}
	metrics.IncidentOperations.WithLabelValues(op, result).Inc()
}

// Package postgres provides PostgreSQL implementation of the incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/hazard-watch/internal/domain"
	"github.com/bissquit/hazard-watch/internal/incidents"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements the incidents.Repository interface using PostgreSQL.
// Each mutation is a single statement, so the database serializes concurrent
// writers and no change is ever half applied.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `id, description, latitude, longitude, date, status`

// Create inserts a new incident and fills in the generated ID.
func (r *Repository) Create(ctx context.Context, incident *domain.Incident) error {
	if err := incidents.ValidateIncident(incident); err != nil {
		return err
	}

	status := incident.Status
	if status == "" {
		status = domain.IncidentStatusOpen
	}

	query := `
		INSERT INTO incidents (description, latitude, longitude, date, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRow(ctx, query,
		incident.Description,
		incident.Latitude,
		incident.Longitude,
		incident.Date.UTC(),
		string(status),
	).Scan(&id)
	if err != nil {
		return incidents.StorageError("create incident", err)
	}

	incident.ID = id
	incident.Status = status
	incident.Date = incident.Date.UTC()
	return nil
}

// List retrieves all incidents ordered by ID.
func (r *Repository) List(ctx context.Context) ([]domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, incidents.StorageError("list incidents", err)
	}
	defer rows.Close()

	list := make([]domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, incidents.StorageError("scan incident", err)
		}
		list = append(list, *incident)
	}

	if err := rows.Err(); err != nil {
		return nil, incidents.StorageError("iterate incidents", err)
	}

	return list, nil
}

// Get retrieves an incident by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, incidents.StorageError("get incident", err)
	}
	return incident, nil
}

// UpdateStatus sets the status of an incident and returns the updated row.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status domain.IncidentStatus) (*domain.Incident, error) {
	if err := incidents.ValidateStatus(status); err != nil {
		return nil, err
	}

	query := `
		UPDATE incidents
		SET status = $2
		WHERE id = $1
		RETURNING ` + incidentColumns

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, incidents.StorageError("update incident status", err)
	}
	return incident, nil
}

// Delete removes an incident by ID.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM incidents WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return incidents.StorageError("delete incident", err)
	}

	if result.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return incidents.StorageError("ping", err)
	}
	return nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	var status string
	err := row.Scan(
		&incident.ID,
		&incident.Description,
		&incident.Latitude,
		&incident.Longitude,
		&incident.Date,
		&status,
	)
	if err != nil {
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	incident.Status = domain.IncidentStatus(status)
	incident.Date = incident.Date.UTC()
	return &incident, nil
}

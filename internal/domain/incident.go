// Package domain contains the core types shared across modules.
package domain

import "time"

// IncidentStatus represents the lifecycle status of a road incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen     IncidentStatus = "open"
	IncidentStatusResolved IncidentStatus = "resolved"
)

// IsValid checks if the incident status is one of the known values.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusResolved:
		return true
	}
	return false
}

// Incident is a reported road hazard.
type Incident struct {
	ID          int64          `json:"id"`
	Description string         `json:"description"`
	Latitude    float64        `json:"latitude"`
	Longitude   float64        `json:"longitude"`
	Date        time.Time      `json:"date"`
	Status      IncidentStatus `json:"status"`
}

// IsOpen reports whether the incident still represents an active hazard.
func (i *Incident) IsOpen() bool {
	return i.Status == IncidentStatusOpen
}

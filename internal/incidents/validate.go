package incidents

import (
	"strings"
	"unicode/utf8"

	"github.com/bissquit/hazard-watch/internal/domain"
	"github.com/bissquit/hazard-watch/internal/geo"
	"golang.org/x/text/unicode/norm"
)

// MaxDescriptionLength is the maximum description length in runes.
const MaxDescriptionLength = 1000

// NormalizeDescription trims surrounding whitespace and applies Unicode NFC.
func NormalizeDescription(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// ValidateIncident checks a new incident before it is persisted.
func ValidateIncident(incident *domain.Incident) error {
	if incident == nil {
		return &ValidationError{Field: "incident", Reason: "missing"}
	}
	if strings.TrimSpace(incident.Description) == "" {
		return &ValidationError{Field: "description", Reason: "required"}
	}
	if utf8.RuneCountInString(incident.Description) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Reason: "too long"}
	}
	if !geo.ValidCoordinates(incident.Latitude, 0) {
		return &ValidationError{Field: "latitude", Reason: "must be between -90 and 90"}
	}
	if !geo.ValidCoordinates(0, incident.Longitude) {
		return &ValidationError{Field: "longitude", Reason: "must be between -180 and 180"}
	}
	if incident.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	if incident.Status != "" {
		return ValidateStatus(incident.Status)
	}
	return nil
}

// ValidateStatus checks that status is one of the enumerated values.
func ValidateStatus(status domain.IncidentStatus) error {
	if !status.IsValid() {
		return &ValidationError{Field: "status", Reason: "must be one of: open resolved"}
	}
	return nil
}

// Package incidents provides storage contracts, business logic and HTTP
// handlers for road incident reports.
package incidents

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/hazard-watch/internal/domain"
	"github.com/bissquit/hazard-watch/internal/geo"
	"github.com/bissquit/hazard-watch/internal/pkg/ctxlog"
	"github.com/bissquit/hazard-watch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)

	return &Handler{
		service:   service,
		validator: v,
	}
}

// RegisterRoutes registers the incident routes. createMiddlewares wrap only
// POST /incidents.
func (h *Handler) RegisterRoutes(r chi.Router, createMiddlewares ...func(http.Handler) http.Handler) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.With(createMiddlewares...).Post("/", h.CreateIncident)
		r.Get("/{id}", h.GetIncident)
		r.Put("/{id}", h.UpdateIncidentStatus)
		r.Delete("/{id}", h.DeleteIncident)
	})
}

// CreateIncidentRequest represents the request body for reporting an incident.
// Pointers distinguish a missing field from a zero coordinate.
type CreateIncidentRequest struct {
	Description *string  `json:"description" validate:"required"`
	Latitude    *float64 `json:"latitude" validate:"required,latitude"`
	Longitude   *float64 `json:"longitude" validate:"required,longitude"`
	Date        *string  `json:"date" validate:"required"`
}

// ToInput converts the request to service input.
func (r *CreateIncidentRequest) ToInput() (CreateIncidentInput, error) {
	date, err := time.Parse(time.RFC3339, *r.Date)
	if err != nil {
		return CreateIncidentInput{}, &ValidationError{Field: "date", Reason: "must be an RFC 3339 timestamp"}
	}

	return CreateIncidentInput{
		Description: *r.Description,
		Latitude:    *r.Latitude,
		Longitude:   *r.Longitude,
		Date:        date,
	}, nil
}

// UpdateStatusRequest represents the request body for changing incident status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open resolved"`
}

// CreateIncident handles POST /incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input, err := req.ToInput()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	incident, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, incident)
}

// ListIncidents handles GET /incidents request.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, list)
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	r = r.WithContext(ctxlog.With(r.Context(), "incident_id", id))
	incident, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, incident)
}

// UpdateIncidentStatus handles PUT /incidents/{id} request.
func (h *Handler) UpdateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	r = r.WithContext(ctxlog.With(r.Context(), "incident_id", id))
	incident, err := h.service.UpdateStatus(r.Context(), id, domain.IncidentStatus(req.Status))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, incident)
}

// DeleteIncident handles DELETE /incidents/{id} request.
func (h *Handler) DeleteIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	r = r.WithContext(ctxlog.With(r.Context(), "incident_id", id))
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"message": "incident deleted"})
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: ErrIncidentNotFound.Error()},
	{Error: ErrStorage, Status: http.StatusInternalServerError, Message: "storage unavailable, retry later", Log: true},
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		httputil.ValidationError(w, validationErr)
		return
	}
	httputil.HandleError(r.Context(), w, err, errorMappings)
}

// parseID reads the {id} URL parameter. Non-numeric IDs cannot exist in the
// store and are reported as not found.
func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusNotFound, ErrIncidentNotFound.Error())
		return 0, false
	}
	return id, true
}

func parseListFilter(r *http.Request) (ListFilter, error) {
	var filter ListFilter
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		status := domain.IncidentStatus(s)
		filter.Status = &status
	}

	latStr, lonStr, radiusStr := q.Get("lat"), q.Get("lon"), q.Get("radius_km")
	if latStr == "" && lonStr == "" && radiusStr == "" {
		return filter, nil
	}
	if latStr == "" || lonStr == "" || radiusStr == "" {
		return filter, &ValidationError{Field: "near", Reason: "lat, lon and radius_km must be given together"}
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return filter, &ValidationError{Field: "lat", Reason: "must be a number"}
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return filter, &ValidationError{Field: "lon", Reason: "must be a number"}
	}
	radius, err := strconv.ParseFloat(radiusStr, 64)
	if err != nil {
		return filter, &ValidationError{Field: "radius_km", Reason: "must be a number"}
	}

	filter.Near = &geo.Point{Lat: lat, Lon: lon}
	filter.RadiusKm = radius
	return filter, nil
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

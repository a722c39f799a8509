package proximity

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/bissquit/hazard-watch/internal/pkg/ctxlog"
	"github.com/bissquit/hazard-watch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler exposes registry sessions to polling clients.
type Handler struct {
	registry  *Registry
	validator *validator.Validate
}

// NewHandler creates a new proximity handler.
func NewHandler(registry *Registry) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return &Handler{
		registry:  registry,
		validator: v,
	}
}

// RegisterRoutes registers proximity routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/proximity/sessions", func(r chi.Router) {
		r.Post("/", h.OpenSession)
		r.Delete("/{id}", h.CloseSession)
		r.Put("/{id}/position", h.ReportPosition)
		r.Delete("/{id}/position", h.ReportUnavailable)
	})
}

// PositionRequest represents a position report.
type PositionRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// SessionResponse describes a session.
type SessionResponse struct {
	ID    string `json:"id"`
	State State  `json:"state"`
}

// PositionResponse is returned after a position report.
type PositionResponse struct {
	State  State   `json:"state"`
	Alerts []Alert `json:"alerts"`
}

// OpenSession handles POST /proximity/sessions request.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	session := h.registry.Open()
	ctxlog.FromContext(r.Context()).Debug("proximity session opened", "session_id", session.ID())
	httputil.JSON(w, http.StatusCreated, SessionResponse{ID: session.ID(), State: session.State()})
}

// CloseSession handles DELETE /proximity/sessions/{id} request.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Close(chi.URLParam(r, "id")); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReportPosition handles PUT /proximity/sessions/{id}/position request.
func (h *Handler) ReportPosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	ctx := ctxlog.With(r.Context(), "session_id", id)
	alerts, err := h.registry.ReportPosition(ctx, id, Position{Lat: *req.Latitude, Lon: *req.Longitude})
	if err != nil {
		h.handleError(w, r.WithContext(ctx), err)
		return
	}

	if alerts == nil {
		alerts = []Alert{}
	}
	httputil.JSON(w, http.StatusOK, PositionResponse{State: StateTracking, Alerts: alerts})
}

// ReportUnavailable handles DELETE /proximity/sessions/{id}/position request.
func (h *Handler) ReportUnavailable(w http.ResponseWriter, r *http.Request) {
	session, err := h.registry.ReportUnavailable(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, SessionResponse{ID: session.ID(), State: session.State()})
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrSessionNotFound, Status: http.StatusNotFound, Message: ErrSessionNotFound.Error()},
	{Error: ErrInvalidPosition, Status: http.StatusBadRequest, Message: ErrInvalidPosition.Error()},
	{Error: ErrIncidentsUnavailable, Status: http.StatusServiceUnavailable, Message: "incidents unavailable, retry later", Log: true},
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, errorMappings)
}

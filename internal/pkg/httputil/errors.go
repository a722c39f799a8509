package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/hazard-watch/internal/pkg/ctxlog"
)

// ErrorMapping maps a sentinel error to a status and client-facing message.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
	// Log marks failures an operator should see, such as an unreachable
	// backing store. They are logged at warn level with the full cause.
	Log bool
}

// HandleError writes the response of the first mapping whose Error matches
// err with errors.Is. Unmatched errors are logged and answered with 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		if m.Log {
			ctxlog.FromContext(ctx).Warn("request failed", "status", m.Status, "error", err)
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		Error(w, m.Status, msg)
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

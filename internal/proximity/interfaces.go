package proximity

import (
	"context"

	"github.com/bissquit/hazard-watch/internal/domain"
)

// IncidentLister returns the current incident set.
type IncidentLister interface {
	List(ctx context.Context) ([]domain.Incident, error)
}

// PositionProvider returns the observer's current position. It returns an
// error wrapping ErrPositionUnavailable when no fix can be obtained.
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// PositionProviderFunc adapts a function to PositionProvider.
type PositionProviderFunc func(ctx context.Context) (Position, error)

// CurrentPosition calls f(ctx).
func (f PositionProviderFunc) CurrentPosition(ctx context.Context) (Position, error) {
	return f(ctx)
}

// FixedPosition reports pos on every call, for stationary observers such as
// a depot or a road works site.
func FixedPosition(pos Position) PositionProvider {
	return PositionProviderFunc(func(context.Context) (Position, error) {
		return pos, nil
	})
}

// AlertSink receives alerts for presentation or forwarding.
type AlertSink interface {
	Send(ctx context.Context, alert Alert) error
}

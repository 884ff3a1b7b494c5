package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
)

// TimerFirer evaluates a trip when its geofence timer expires.
type TimerFirer interface {
	Fire(ctx context.Context, tripID, geofenceID int64) (*domain.CheckResult, error)
}

// GeofenceRegenerator replaces a geofence with a fresh copy.
type GeofenceRegenerator interface {
	Regenerate(ctx context.Context, id int64) (*domain.Geofence, error)
}

// GeofenceActivities holds the activity implementations run by the timer
// worker.
type GeofenceActivities struct {
	Timers    TimerFirer
	Geofences GeofenceRegenerator
}

// FireGeofenceTimer runs the timer expiry. Timers that were cancelled or
// whose trip ended are treated as done so the workflow does not retry.
func (a *GeofenceActivities) FireGeofenceTimer(ctx context.Context, tripID, geofenceID int64) error {
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(
		"activity", activity.GetInfo(ctx).ActivityType.Name,
		"trip_id", tripID, "geofence_id", geofenceID,
	))

	res, err := a.Timers.Fire(ctx, tripID, geofenceID)
	if errors.Is(err, domain.ErrCancelled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fire timer %d/%d: %w", tripID, geofenceID, err)
	}
	logging.FromContext(ctx).Info("geofence timer fired", "violation", res.ViolationFound, "message", res.Message)
	return nil
}

// RegenerateGeofence returns the replacement id, or 0 when the cycle should
// stop.
func (a *GeofenceActivities) RegenerateGeofence(ctx context.Context, geofenceID int64) (int64, error) {
	next, err := a.Geofences.Regenerate(ctx, geofenceID)
	switch {
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, domain.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("regenerate geofence %d: %w", geofenceID, err)
	}
	return next.ID, nil
}

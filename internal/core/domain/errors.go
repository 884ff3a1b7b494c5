package domain

import (
	"errors"
	"fmt"

	"github.com/samirrijal/geotrack/internal/pkg/geospatial"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidCoordinate   = geospatial.ErrInvalidCoordinate
	ErrForbidden           = errors.New("forbidden")
	ErrTripNotActive       = errors.New("trip is not In-Route")
	ErrGeofenceNotLinked   = fmt.Errorf("%w: the specified geofence is not linked to this trip", ErrInvalidInput)
	ErrDriverBusy          = errors.New("driver already has an In-Route trip")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrExternalProvider    = errors.New("external provider failure")
	// ErrCancelled marks work discarded because its trip or timer was torn
	// down. It is never surfaced to API callers.
	ErrCancelled = errors.New("cancelled")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with an entity description.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Invalidf wraps ErrInvalidInput with a message.
func Invalidf(format string, args ...any) error {
	return invalidf(format, args...)
}

// ProviderError wraps an external provider failure.
func ProviderError(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrExternalProvider, provider, err)
}

package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

// UserRepository reads users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// VehicleRepository reads vehicles.
type VehicleRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Vehicle, error)
}

// TripRepository persists trips and their intermediate destinations.
type TripRepository interface {
	Create(ctx context.Context, trip *domain.Trip, stops []string) error
	GetByID(ctx context.Context, id int64) (*domain.Trip, error)
	ListByVehicle(ctx context.Context, vehicleID int64) ([]domain.Trip, error)
	// ActiveByDriver returns the driver's In-Route trip or ErrNotFound.
	ActiveByDriver(ctx context.Context, driverID int64) (*domain.Trip, error)
	Assign(ctx context.Context, tripID, driverID int64, route json.RawMessage) error
	// UpdateStatus moves a trip from one status to another. Leaving In-Route
	// resolves open episodes and cancels running timers in the same
	// transaction; the cancelled timers are returned.
	UpdateStatus(ctx context.Context, tripID int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error)
	LinkGeofence(ctx context.Context, tripID, geofenceID int64) error
	Vote(ctx context.Context, tripID int64, up bool) error
	// UpdateTonnage changes the trip's load and adjusts the vehicle's
	// remaining capacity by the difference. It returns the new remaining
	// capacity.
	UpdateTonnage(ctx context.Context, tripID int64, tonnage float64) (float64, error)
	AddIntermediateDestination(ctx context.Context, d *domain.IntermediateDestination) error
	ListIntermediateDestinations(ctx context.Context, tripID int64) ([]domain.IntermediateDestination, error)
}

// GeofenceRepository persists geofences.
type GeofenceRepository interface {
	Create(ctx context.Context, g *domain.Geofence) error
	GetByID(ctx context.Context, id int64) (*domain.Geofence, error)
	// ListActive returns active geofences ordered by ascending id.
	ListActive(ctx context.Context) ([]domain.Geofence, error)
	SetProviderRef(ctx context.Context, id int64, ref string) error
	// Deactivate soft-deletes a geofence, resolves its open episodes and
	// cancels its running timers, returning them.
	Deactivate(ctx context.Context, id int64, at time.Time) ([]domain.GeofenceTimer, error)
	// Supersede inserts next as the successor of oldID, moves trip links and
	// open episodes to it, and cancels running timers on oldID, returning them.
	Supersede(ctx context.Context, oldID int64, next *domain.Geofence) ([]domain.GeofenceTimer, error)
}

// DriverLocationRepository keeps the latest position per driver.
type DriverLocationRepository interface {
	// Upsert stores loc unless a newer sample is already stored. It reports
	// whether loc was applied.
	Upsert(ctx context.Context, loc *domain.DriverLocation) (bool, error)
	GetByDriver(ctx context.Context, driverID int64) (*domain.DriverLocation, error)
	FindNearby(ctx context.Context, center domain.GeoPoint, radiusKm float64, limit int) ([]domain.DriverLocation, error)
}

// DelayReportRepository persists driver-filed reports and acknowledgements.
type DelayReportRepository interface {
	Create(ctx context.Context, r *domain.DelayReport) error
	GetByID(ctx context.Context, id int64) (*domain.DelayReport, error)
	ListByDriver(ctx context.Context, driverID int64) ([]domain.DelayReport, error)
	// RankDrivers counts reports per driver, most reported first. Drivers
	// without reports are included with a zero count.
	RankDrivers(ctx context.Context) ([]domain.DriverReportSummary, error)
	// Acknowledge stamps the report and resolves the episode it opened.
	Acknowledge(ctx context.Context, id int64, at time.Time) (*domain.DelayReport, error)
}

// EpisodeRepository persists the per-(trip, geofence) violation state machine.
type EpisodeRepository interface {
	// Get returns the episode, or an Idle episode if none was ever opened.
	Get(ctx context.Context, tripID, geofenceID int64) (*domain.ViolationEpisode, error)
	ListByTrip(ctx context.Context, tripID int64) ([]domain.ViolationEpisode, error)
	// OpenWithReport inserts report and moves the episode to Open in one
	// transaction. It returns false without writing when the episode is
	// already Open, and ErrConcurrencyConflict when the row is locked.
	OpenWithReport(ctx context.Context, ep *domain.ViolationEpisode, report *domain.DelayReport) (bool, error)
	Resolve(ctx context.Context, tripID, geofenceID int64, reason string, at time.Time) (bool, error)
	MarkNotified(ctx context.Context, tripID, geofenceID int64, at time.Time) error
}

// NotificationRepository is the durable notification inbox.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByRecipient(ctx context.Context, recipientID int64, offset, limit int) ([]domain.Notification, int, error)
	MarkRead(ctx context.Context, id, recipientID int64) error
}

// TimerRepository persists geofence timer state.
type TimerRepository interface {
	// Get returns the timer, or an Idle timer if none exists.
	Get(ctx context.Context, tripID, geofenceID int64) (*domain.GeofenceTimer, error)
	// Start moves the timer to Running unless it is already Running, in
	// which case the stored timer is loaded into t and false is returned.
	Start(ctx context.Context, t *domain.GeofenceTimer) (bool, error)
	// Transition is a compare-and-set on the timer state.
	Transition(ctx context.Context, tripID, geofenceID int64, from, to domain.TimerState, at time.Time) (bool, error)
	ListByTrip(ctx context.Context, tripID int64) ([]domain.GeofenceTimer, error)
}

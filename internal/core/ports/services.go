package ports

import (
	"context"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishLocation(ctx context.Context, ev *domain.LocationEvent) error
	PublishViolation(ctx context.Context, ev *domain.ViolationEvent) error
	PublishTimerEvent(ctx context.Context, ev *domain.TimerEvent) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeLocations(ctx context.Context, handler func(ctx context.Context, ev *domain.LocationEvent) error) error
}

// CacheService provides read-through caching and dedup keys.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
	// SetNX sets key only if absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttlSeconds int) (bool, error)
}

// LiveHandle is an open live-delivery connection to one recipient.
type LiveHandle interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// LiveChannel delivers payloads to recipients with an open live connection.
type LiveChannel interface {
	Register(recipientID int64, h LiveHandle) error
	Release(recipientID int64, h LiveHandle)
	IsOnline(recipientID int64) bool
	// Send reports false when the recipient has no live connection anywhere.
	Send(ctx context.Context, recipientID int64, payload []byte) (bool, error)
}

// RecipientBroker relays live messages between process instances.
type RecipientBroker interface {
	// Deliver hands payload to whichever instance holds the recipient's live
	// handle. It reports false when no instance accepted it.
	Deliver(ctx context.Context, recipientID int64, payload []byte) (bool, error)
	// Serve answers Deliver calls for recipientID until the returned stop
	// function is called.
	Serve(recipientID int64, deliver func(payload []byte) error) (stop func(), err error)
}

// PushSender sends mobile push notifications.
type PushSender interface {
	SendPush(ctx context.Context, token, title, body string) error
}

// RoutePlanner suggests a driving route.
type RoutePlanner interface {
	PlanRoute(ctx context.Context, source, destination string, waypoints []string) (*domain.RoutePlan, error)
}

// GeofenceProvider mirrors geofences into an external mapping service.
type GeofenceProvider interface {
	CreateGeofence(ctx context.Context, center domain.GeoPoint, radiusKm float64) (string, error)
	// CheckGeofence reports whether pos is inside the geofence registered
	// under ref.
	CheckGeofence(ctx context.Context, pos domain.GeoPoint, ref string) (bool, error)
}

// TimerScheduler runs deferred geofence callbacks durably.
type TimerScheduler interface {
	ScheduleTimer(ctx context.Context, tripID, geofenceID int64, delay time.Duration) error
	CancelTimer(ctx context.Context, tripID, geofenceID int64) error
	ScheduleRegeneration(ctx context.Context, geofenceID int64, every time.Duration) error
	CancelRegeneration(ctx context.Context, geofenceID int64) error
}

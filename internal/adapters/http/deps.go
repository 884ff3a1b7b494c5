package http

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/samirrijal/geotrack/internal/adapters/auth"
	"github.com/samirrijal/geotrack/internal/core/usecases"
)

// Pinger is a backing store that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Locations  *usecases.LocationService
	Violations *usecases.ViolationService
	Timers     *usecases.TimerService
	Geofences  *usecases.GeofenceService
	Trips      *usecases.TripService
	Reports    *usecases.DelayReportService
	Inbox      *usecases.InboxService
	Live       *usecases.LiveChannelRegistry
	Auth       *auth.Verifier
	NATS       *nats.Conn
	DB         Pinger
	Cache      Pinger
}

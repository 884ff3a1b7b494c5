package usecases_test

import (
	"context"
	"sync"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/usecases"
)

const (
	driverID  int64 = 10
	adminID   int64 = 20
	creatorID int64 = 30
	tripID    int64 = 100
	fenceID   int64 = 1
)

var (
	delhi   = domain.GeoPoint{Lat: 28.7041, Lon: 77.1025}
	outside = domain.GeoPoint{Lat: 28.70, Lon: 77.50}
)

// fixture wires the core services over in-memory fakes: an In-Route trip
// started 11 minutes ago with a 5 km / 10 min geofence whose creator is not
// the trip admin.
type fixture struct {
	mu   sync.Mutex
	trip domain.Trip

	users         *mockUserRepo
	fence         domain.Geofence
	trips         *mockTripRepo
	geofenceRepo  *mockGeofenceRepo
	locations     *mockLocationRepo
	episodes      *memEpisodes
	notifications *memNotifications
	timers        *memTimers
	cache         *memCache
	live          *mockLive
	push          *mockPush
	scheduler     *mockScheduler
	publisher     *mockPublisher

	router     *usecases.NotificationRouter
	geofences  *usecases.GeofenceService
	reports    *usecases.DelayReportFactory
	violations *usecases.ViolationService
	timerSvc   *usecases.TimerService
}

func newFixture() *fixture {
	started := time.Now().Add(-11 * time.Minute)
	f := &fixture{
		users: &mockUserRepo{users: map[int64]*domain.User{
			driverID:  {ID: driverID, Name: "Ravi", Role: domain.RoleDriver, IsActive: true, DeviceToken: "tok-driver"},
			adminID:   {ID: adminID, Name: "Asha", Role: domain.RoleAdmin, IsActive: true},
			creatorID: {ID: creatorID, Name: "Kiran", Role: domain.RoleAdmin, IsActive: true},
		}},
		trip: domain.Trip{
			ID:         tripID,
			DriverID:   ptr(driverID),
			AdminID:    ptr(adminID),
			GeofenceID: ptr(fenceID),
			Status:     domain.TripInRoute,
			StartedAt:  &started,
		},
		fence: domain.Geofence{
			ID:             fenceID,
			Center:         delhi,
			RadiusKm:       5,
			AllowedMinutes: 10,
			CreatedBy:      ptr(creatorID),
			Active:         true,
		},
		locations:     &mockLocationRepo{},
		episodes:      newMemEpisodes(),
		notifications: &memNotifications{},
		timers:        newMemTimers(),
		cache:         newMemCache(),
		live:          newMockLive(),
		push:          &mockPush{},
		scheduler:     &mockScheduler{},
		publisher:     &mockPublisher{},
	}
	f.trips = &mockTripRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Trip, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if id != f.trip.ID {
				return nil, domain.NotFoundf("trip %d", id)
			}
			cp := f.trip
			return &cp, nil
		},
		activeByDriverFn: func(ctx context.Context, id int64) (*domain.Trip, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.trip.Driver() == id && f.trip.Status == domain.TripInRoute {
				cp := f.trip
				return &cp, nil
			}
			return nil, domain.ErrNotFound
		},
		updateStatusFn: func(ctx context.Context, id int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error) {
			f.setStatus(to)
			return nil, nil
		},
	}
	f.geofenceRepo = staticGeofences(f.fence)
	f.wire()
	return f
}

func (f *fixture) wire() {
	f.router = usecases.NewNotificationRouter(f.users, f.notifications, f.live, f.push, f.cache, 3600)
	f.geofences = usecases.NewGeofenceService(f.geofenceRepo, nil, f.scheduler, f.cache)
	f.reports = usecases.NewDelayReportFactory(f.episodes)
	f.violations = usecases.NewViolationService(f.trips, f.geofences, f.episodes, f.timers, f.reports, f.router, f.publisher)
	f.timerSvc = usecases.NewTimerService(f.trips, f.geofenceRepo, f.locations, f.timers, f.scheduler, f.violations, f.router, f.publisher)
}

func (f *fixture) setStatus(s domain.TripStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trip.Status = s
}

func (f *fixture) currentTrip() *domain.Trip {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.trip
	return &cp
}

func (f *fixture) driverAt(p domain.GeoPoint) {
	f.locations.getByDriverFn = func(ctx context.Context, id int64) (*domain.DriverLocation, error) {
		return &domain.DriverLocation{DriverID: id, Location: p, CapturedAt: time.Now()}, nil
	}
}

package usecases_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/core/usecases"
)

func newTripService(f *fixture, planner *mockPlanner) *usecases.TripService {
	var p ports.RoutePlanner
	if planner != nil {
		p = planner
	}
	return usecases.NewTripService(f.trips, &mockVehicleRepo{}, f.users, f.geofenceRepo, f.episodes, p, f.scheduler, f.violations, f.router)
}

var admin = usecases.Caller{ID: adminID, Role: domain.RoleAdmin}

func TestTripCreate_Validation(t *testing.T) {
	f := newFixture()
	svc := newTripService(f, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, usecases.CreateTripInput{VehicleID: 1, Source: "", Destination: "B"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Create(ctx, usecases.CreateTripInput{VehicleID: 1, Source: "A", Destination: "B", Tonnage: 500}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected capacity error, got %v", err)
	}

	var stops []string
	f.trips.createFn = func(ctx context.Context, trip *domain.Trip, s []string) error {
		stops = s
		trip.ID = 42
		return nil
	}
	trip, err := svc.Create(ctx, usecases.CreateTripInput{VehicleID: 1, AdminID: adminID, Source: "Delhi", Destination: "Jaipur", Stops: []string{"Gurugram", " ", "Neemrana"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if trip.ID != 42 || trip.Status != domain.TripPending || trip.Admin() != adminID {
		t.Errorf("unexpected trip %+v", trip)
	}
	if len(stops) != 2 {
		t.Errorf("blank stops must be dropped, got %v", stops)
	}
}

func TestTripUpdateStatus_ParsesAndValidates(t *testing.T) {
	f := newFixture()
	f.setStatus(domain.TripAssigned)
	svc := newTripService(f, nil)
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, admin, tripID, "delayed"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, admin, tripID, "completed"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	trip, err := svc.UpdateStatus(ctx, admin, tripID, "in_route")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if trip.Status != domain.TripInRoute {
		t.Errorf("expected In-Route, got %s", trip.Status)
	}
}

func TestTripUpdateStatus_DriverOwnTripOnly(t *testing.T) {
	f := newFixture()
	svc := newTripService(f, nil)

	other := usecases.Caller{ID: 99, Role: domain.RoleDriver}
	if _, err := svc.UpdateStatus(context.Background(), other, tripID, "Completed"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	own := usecases.Caller{ID: driverID, Role: domain.RoleDriver}
	if _, err := svc.UpdateStatus(context.Background(), own, tripID, "Completed"); err != nil {
		t.Errorf("driver must complete own trip: %v", err)
	}
}

func TestTripUpdateStatus_DriverBusy(t *testing.T) {
	f := newFixture()
	f.setStatus(domain.TripAssigned)
	f.trips.activeByDriverFn = func(ctx context.Context, id int64) (*domain.Trip, error) {
		return &domain.Trip{ID: 555, DriverID: ptr(id), Status: domain.TripInRoute}, nil
	}
	svc := newTripService(f, nil)

	if _, err := svc.UpdateStatus(context.Background(), admin, tripID, "In-Route"); !errors.Is(err, domain.ErrDriverBusy) {
		t.Errorf("expected ErrDriverBusy, got %v", err)
	}
}

func TestTripUpdateStatus_LeavingInRouteCancelsTimers(t *testing.T) {
	f := newFixture()
	f.trips.updateStatusFn = func(ctx context.Context, id int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error) {
		if from != domain.TripInRoute || to != domain.TripCompleted {
			t.Errorf("unexpected transition %s -> %s", from, to)
		}
		f.setStatus(to)
		return []domain.GeofenceTimer{{TripID: id, GeofenceID: fenceID, State: domain.TimerCancelled}}, nil
	}
	svc := newTripService(f, nil)

	if _, err := svc.UpdateStatus(context.Background(), admin, tripID, "Completed"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(f.scheduler.cancelled) != 1 || f.scheduler.cancelled[0].geofence != fenceID {
		t.Errorf("expected scheduled timer cancelled, got %v", f.scheduler.cancelled)
	}
}

func TestTripUpdateStatus_RetriesOnceAfterConflict(t *testing.T) {
	f := newFixture()
	calls := 0
	f.trips.updateStatusFn = func(ctx context.Context, id int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error) {
		calls++
		if calls == 1 {
			return nil, domain.ErrConcurrencyConflict
		}
		f.setStatus(to)
		return nil, nil
	}
	svc := newTripService(f, nil)

	trip, err := svc.UpdateStatus(context.Background(), admin, tripID, "Completed")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	if trip.Status != domain.TripCompleted {
		t.Errorf("expected Completed, got %s", trip.Status)
	}
}

func TestTripUpdateStatus_ConflictAfterRetrySurfaces(t *testing.T) {
	f := newFixture()
	calls := 0
	f.trips.updateStatusFn = func(ctx context.Context, id int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error) {
		calls++
		return nil, domain.ErrConcurrencyConflict
	}
	svc := newTripService(f, nil)

	if _, err := svc.UpdateStatus(context.Background(), admin, tripID, "Completed"); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Errorf("expected ErrConcurrencyConflict, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestTripUpdateStatus_RetryRereadsConcurrentWinner(t *testing.T) {
	f := newFixture()
	calls := 0
	f.trips.updateStatusFn = func(ctx context.Context, id int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error) {
		calls++
		// Another request completed the trip first.
		f.setStatus(domain.TripCompleted)
		return nil, domain.ErrConcurrencyConflict
	}
	svc := newTripService(f, nil)

	trip, err := svc.UpdateStatus(context.Background(), admin, tripID, "Completed")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if calls != 1 || trip.Status != domain.TripCompleted {
		t.Errorf("re-read must see Completed without a second write, calls=%d status=%s", calls, trip.Status)
	}
}

func TestTripVote(t *testing.T) {
	f := newFixture()
	var votes []bool
	f.trips.voteFn = func(ctx context.Context, id int64, up bool) error {
		votes = append(votes, up)
		return nil
	}
	svc := newTripService(f, nil)
	ctx := context.Background()

	if _, err := svc.Vote(ctx, driver, tripID, "Upvote"); err != nil {
		t.Fatalf("upvote: %v", err)
	}
	if _, err := svc.Vote(ctx, driver, tripID, "downvote"); err != nil {
		t.Fatalf("downvote: %v", err)
	}
	if len(votes) != 2 || !votes[0] || votes[1] {
		t.Errorf("unexpected votes %v", votes)
	}

	if _, err := svc.Vote(ctx, driver, tripID, "meh"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	other := usecases.Caller{ID: 99, Role: domain.RoleDriver}
	if _, err := svc.Vote(ctx, other, tripID, "upvote"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if len(votes) != 2 {
		t.Errorf("rejected votes must not be stored, got %v", votes)
	}
}

func TestTripUpdateTonnage(t *testing.T) {
	f := newFixture()
	var stored float64
	f.trips.updateTonnageFn = func(ctx context.Context, id int64, tonnage float64) (float64, error) {
		if tonnage > 12 {
			return 0, domain.Invalidf("over capacity")
		}
		stored = tonnage
		return 12 - tonnage, nil
	}
	svc := newTripService(f, nil)
	ctx := context.Background()

	res, err := svc.UpdateTonnage(ctx, driver, tripID, 8)
	if err != nil {
		t.Fatalf("update tonnage: %v", err)
	}
	if stored != 8 || res.RemainingTonnage != 4 || res.Trip.Tonnage != 8 {
		t.Errorf("unexpected result %+v (stored %v)", res, stored)
	}

	if _, err := svc.UpdateTonnage(ctx, driver, tripID, -1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for negative tonnage, got %v", err)
	}
	if _, err := svc.UpdateTonnage(ctx, driver, tripID, 20); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected capacity error, got %v", err)
	}
	other := usecases.Caller{ID: 99, Role: domain.RoleDriver}
	if _, err := svc.UpdateTonnage(ctx, other, tripID, 1); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	f.setStatus(domain.TripCompleted)
	if _, err := svc.UpdateTonnage(ctx, admin, tripID, 1); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on a closed trip, got %v", err)
	}
}

func TestTripAssign_PlansRouteAndNotifies(t *testing.T) {
	f := newFixture()
	f.setStatus(domain.TripPending)
	f.trip.DriverID = nil

	var waypoints []string
	var storedRoute json.RawMessage
	planner := &mockPlanner{planFn: func(ctx context.Context, source, destination string, wp []string) (*domain.RoutePlan, error) {
		waypoints = wp
		return &domain.RoutePlan{DistanceMeters: 12000, Summary: "NH48"}, nil
	}}
	f.trips.listStopsFn = func(ctx context.Context, id int64) ([]domain.IntermediateDestination, error) {
		return []domain.IntermediateDestination{{Destination: "Gurugram", Sequence: 1}}, nil
	}
	f.trips.assignFn = func(ctx context.Context, id, driver int64, route json.RawMessage) error {
		storedRoute = route
		f.mu.Lock()
		f.trip.DriverID = ptr(driver)
		f.trip.Status = domain.TripAssigned
		f.mu.Unlock()
		return nil
	}
	svc := newTripService(f, planner)

	trip, deliveries, err := svc.Assign(context.Background(), tripID, driverID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if trip.Status != domain.TripAssigned || trip.Driver() != driverID {
		t.Errorf("unexpected trip %+v", trip)
	}
	if len(waypoints) != 1 || waypoints[0] != "Gurugram" {
		t.Errorf("unexpected waypoints %v", waypoints)
	}
	if len(storedRoute) == 0 {
		t.Error("route details must be stored")
	}
	if len(deliveries) != 1 || deliveries[0].RecipientID != driverID {
		t.Errorf("unexpected deliveries %+v", deliveries)
	}
}

func TestTripAssign_PlannerFailureStillAssigns(t *testing.T) {
	f := newFixture()
	f.setStatus(domain.TripPending)
	planner := &mockPlanner{planFn: func(ctx context.Context, source, destination string, wp []string) (*domain.RoutePlan, error) {
		return nil, domain.ProviderError("maps", errors.New("quota exceeded"))
	}}
	assigned := false
	f.trips.assignFn = func(ctx context.Context, id, driver int64, route json.RawMessage) error {
		assigned = true
		if route != nil {
			t.Error("no route expected after planner failure")
		}
		return nil
	}
	svc := newTripService(f, planner)

	if _, _, err := svc.Assign(context.Background(), tripID, driverID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !assigned {
		t.Error("trip must be assigned")
	}
}

func TestTripAssign_RejectsNonDriver(t *testing.T) {
	f := newFixture()
	f.setStatus(domain.TripPending)
	svc := newTripService(f, nil)

	if _, _, err := svc.Assign(context.Background(), tripID, adminID); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTripLinkGeofence(t *testing.T) {
	f := newFixture()
	svc := newTripService(f, nil)

	trip, err := svc.LinkGeofence(context.Background(), tripID, fenceID)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !trip.LinkedTo(fenceID) {
		t.Error("trip must be linked")
	}
	if _, err := svc.LinkGeofence(context.Background(), tripID, 404); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTripAddIntermediateDestination_Sequence(t *testing.T) {
	f := newFixture()
	f.trips.listStopsFn = func(ctx context.Context, id int64) ([]domain.IntermediateDestination, error) {
		return []domain.IntermediateDestination{{Sequence: 1}, {Sequence: 2}}, nil
	}
	svc := newTripService(f, nil)

	d, err := svc.AddIntermediateDestination(context.Background(), tripID, "Neemrana")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if d.Sequence != 3 {
		t.Errorf("expected sequence 3, got %d", d.Sequence)
	}
}

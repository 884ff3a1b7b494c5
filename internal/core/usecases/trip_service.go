package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	ID   int64
	Role domain.Role
}

// IsAdmin reports whether the caller has the admin role.
func (c Caller) IsAdmin() bool { return c.Role == domain.RoleAdmin }

// authorizeTrip allows admins and the trip's own driver.
func authorizeTrip(caller Caller, trip *domain.Trip) error {
	if caller.IsAdmin() || trip.Driver() == caller.ID {
		return nil
	}
	return fmt.Errorf("trip %d is not assigned to user %d: %w", trip.ID, caller.ID, domain.ErrForbidden)
}

// CreateTripInput is the admin request to create a trip.
type CreateTripInput struct {
	VehicleID   int64
	AdminID     int64
	Source      string
	Destination string
	Tonnage     float64
	NextHalt    string
	SafetyInfo  string
	Stops       []string
}

// TripService manages the trip lifecycle.
type TripService struct {
	trips      ports.TripRepository
	vehicles   ports.VehicleRepository
	users      ports.UserRepository
	geofences  ports.GeofenceRepository
	episodes   ports.EpisodeRepository
	planner    ports.RoutePlanner
	scheduler  ports.TimerScheduler
	violations *ViolationService
	router     *NotificationRouter
	now        func() time.Time
}

// NewTripService creates a new TripService. planner and scheduler may be nil.
func NewTripService(
	trips ports.TripRepository,
	vehicles ports.VehicleRepository,
	users ports.UserRepository,
	geofences ports.GeofenceRepository,
	episodes ports.EpisodeRepository,
	planner ports.RoutePlanner,
	scheduler ports.TimerScheduler,
	violations *ViolationService,
	router *NotificationRouter,
) *TripService {
	return &TripService{
		trips:      trips,
		vehicles:   vehicles,
		users:      users,
		geofences:  geofences,
		episodes:   episodes,
		planner:    planner,
		scheduler:  scheduler,
		violations: violations,
		router:     router,
		now:        time.Now,
	}
}

// Create stores a new Pending trip for a vehicle.
func (s *TripService) Create(ctx context.Context, in CreateTripInput) (*domain.Trip, error) {
	in.Source = strings.TrimSpace(in.Source)
	in.Destination = strings.TrimSpace(in.Destination)
	if in.Source == "" || in.Destination == "" {
		return nil, domain.Invalidf("source and destination are required")
	}
	if in.Tonnage < 0 {
		return nil, domain.Invalidf("tonnage must not be negative")
	}

	vehicle, err := s.vehicles.GetByID(ctx, in.VehicleID)
	if err != nil {
		return nil, err
	}
	if in.Tonnage > vehicle.RemainingTonnage {
		return nil, domain.Invalidf("tonnage %.2f exceeds remaining vehicle capacity %.2f", in.Tonnage, vehicle.RemainingTonnage)
	}

	stops := make([]string, 0, len(in.Stops))
	for _, st := range in.Stops {
		if st = strings.TrimSpace(st); st != "" {
			stops = append(stops, st)
		}
	}

	now := s.now()
	trip := &domain.Trip{
		VehicleID:   &vehicle.ID,
		Source:      in.Source,
		Destination: in.Destination,
		Status:      domain.TripPending,
		Tonnage:     in.Tonnage,
		NextHalt:    in.NextHalt,
		SafetyInfo:  in.SafetyInfo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.AdminID != 0 {
		admin := in.AdminID
		trip.AdminID = &admin
	}
	if err := s.trips.Create(ctx, trip, stops); err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}
	return trip, nil
}

// Get returns a trip by id.
func (s *TripService) Get(ctx context.Context, id int64) (*domain.Trip, error) {
	return s.trips.GetByID(ctx, id)
}

// ListByVehicle returns a vehicle's trips, newest first.
func (s *TripService) ListByVehicle(ctx context.Context, vehicleID int64) ([]domain.Trip, error) {
	if _, err := s.vehicles.GetByID(ctx, vehicleID); err != nil {
		return nil, err
	}
	return s.trips.ListByVehicle(ctx, vehicleID)
}

// UpdateStatus moves a trip along its lifecycle. Drivers may only move their
// own trips. Leaving In-Route closes open episodes and cancels timers. A
// transition that loses a race is re-read and attempted once more.
func (s *TripService) UpdateStatus(ctx context.Context, caller Caller, tripID int64, status string) (*domain.Trip, error) {
	next, err := domain.ParseTripStatus(status)
	if err != nil {
		return nil, err
	}
	trip, err := s.transition(ctx, caller, tripID, next)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		logging.FromContext(ctx).Warn("trip status changed concurrently, retrying",
			"trip_id", tripID, "to", next, "error", err)
		trip, err = s.transition(ctx, caller, tripID, next)
	}
	return trip, err
}

func (s *TripService) transition(ctx context.Context, caller Caller, tripID int64, next domain.TripStatus) (*domain.Trip, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTrip(caller, trip); err != nil {
		return nil, err
	}
	if trip.Status == next {
		return trip, nil
	}
	if !trip.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, trip.Status, next)
	}

	if next == domain.TripInRoute {
		if trip.Driver() == 0 {
			return nil, domain.Invalidf("trip %d has no driver", tripID)
		}
		active, err := s.trips.ActiveByDriver(ctx, trip.Driver())
		switch {
		case err == nil && active.ID != trip.ID:
			return nil, fmt.Errorf("driver %d on trip %d: %w", trip.Driver(), active.ID, domain.ErrDriverBusy)
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("check active trip: %w", err)
		}
	}

	cancelled, err := s.trips.UpdateStatus(ctx, tripID, trip.Status, next, s.now())
	if err != nil {
		return nil, err
	}
	if trip.Status == domain.TripInRoute {
		metrics.EpisodesResolved.WithLabelValues(domain.ResolvedTripStatus).Inc()
		cancelScheduled(ctx, s.scheduler, cancelled)
	}
	logging.FromContext(ctx).Info("trip status updated",
		"trip_id", tripID, "from", trip.Status, "to", next, "cancelled_timers", len(cancelled))

	return s.trips.GetByID(ctx, tripID)
}

// Assign gives a Pending trip to a driver, plans its route and notifies the
// driver. A route planner failure is logged and the trip is assigned without
// route details.
func (s *TripService) Assign(ctx context.Context, tripID, driverID int64) (*domain.Trip, []domain.DeliveryOutcome, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, nil, err
	}
	if !trip.Status.CanTransition(domain.TripAssigned) {
		return nil, nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, trip.Status, domain.TripAssigned)
	}
	driver, err := s.users.GetByID(ctx, driverID)
	if err != nil {
		return nil, nil, err
	}
	if driver.Role != domain.RoleDriver || !driver.IsActive {
		return nil, nil, domain.Invalidf("user %d is not an active driver", driverID)
	}

	var route json.RawMessage
	if s.planner != nil {
		stops, err := s.trips.ListIntermediateDestinations(ctx, tripID)
		if err != nil {
			return nil, nil, fmt.Errorf("list intermediate destinations: %w", err)
		}
		waypoints := make([]string, 0, len(stops))
		for _, st := range stops {
			waypoints = append(waypoints, st.Destination)
		}
		plan, err := s.planner.PlanRoute(ctx, trip.Source, trip.Destination, waypoints)
		if err != nil {
			logging.FromContext(ctx).Warn("route planning failed", "trip_id", tripID, "error", err)
		} else if route, err = json.Marshal(plan); err != nil {
			return nil, nil, fmt.Errorf("encode route: %w", err)
		}
	}

	if err := s.trips.Assign(ctx, tripID, driverID, route); err != nil {
		return nil, nil, err
	}
	trip, err = s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, nil, err
	}

	key := fmt.Sprintf("trip-assigned:%d:%d", tripID, driverID)
	deliveries := s.router.Notify(ctx, key, []Outbound{TripAssignedMessage(trip)})
	return trip, deliveries, nil
}

// LinkGeofence attaches an active geofence to a trip.
func (s *TripService) LinkGeofence(ctx context.Context, tripID, geofenceID int64) (*domain.Trip, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status.Terminal() {
		return nil, fmt.Errorf("%w: trip %d is %s", domain.ErrInvalidTransition, tripID, trip.Status)
	}
	g, err := s.geofences.GetByID(ctx, geofenceID)
	if err != nil {
		return nil, err
	}
	if !g.Active {
		return nil, domain.NotFoundf("geofence %d", geofenceID)
	}
	if err := s.trips.LinkGeofence(ctx, tripID, geofenceID); err != nil {
		return nil, err
	}
	trip.GeofenceID = &g.ID
	return trip, nil
}

// AddIntermediateDestination appends a stop to a trip's route.
func (s *TripService) AddIntermediateDestination(ctx context.Context, tripID int64, destination string) (*domain.IntermediateDestination, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, domain.Invalidf("destination is required")
	}
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status.Terminal() {
		return nil, fmt.Errorf("%w: trip %d is %s", domain.ErrInvalidTransition, tripID, trip.Status)
	}
	existing, err := s.trips.ListIntermediateDestinations(ctx, tripID)
	if err != nil {
		return nil, err
	}
	d := &domain.IntermediateDestination{
		TripID:      tripID,
		Destination: destination,
		Sequence:    len(existing) + 1,
	}
	if err := s.trips.AddIntermediateDestination(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListIntermediateDestinations returns a trip's stops in order.
func (s *TripService) ListIntermediateDestinations(ctx context.Context, tripID int64) ([]domain.IntermediateDestination, error) {
	if _, err := s.trips.GetByID(ctx, tripID); err != nil {
		return nil, err
	}
	return s.trips.ListIntermediateDestinations(ctx, tripID)
}

// MarkDelayed files a trip-level "Trip delay" report for the trip's driver.
func (s *TripService) MarkDelayed(ctx context.Context, caller Caller, tripID int64) (*domain.CheckResult, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTrip(caller, trip); err != nil {
		return nil, err
	}
	return s.violations.MarkTripDelayed(ctx, trip)
}

// Vote records a driver's upvote or downvote on a trip.
func (s *TripService) Vote(ctx context.Context, caller Caller, tripID int64, vote string) (*domain.Trip, error) {
	var up bool
	switch strings.ToLower(strings.TrimSpace(vote)) {
	case "upvote":
		up = true
	case "downvote":
	default:
		return nil, domain.Invalidf("vote must be upvote or downvote, got %q", vote)
	}
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTrip(caller, trip); err != nil {
		return nil, err
	}
	if err := s.trips.Vote(ctx, tripID, up); err != nil {
		return nil, err
	}
	return s.trips.GetByID(ctx, tripID)
}

// TonnageUpdate is the result of changing a trip's load.
type TonnageUpdate struct {
	Trip             *domain.Trip `json:"trip"`
	RemainingTonnage float64      `json:"remaining_tonnage"`
}

// UpdateTonnage changes a trip's load. The vehicle's remaining capacity moves
// by the difference and may not go negative.
func (s *TripService) UpdateTonnage(ctx context.Context, caller Caller, tripID int64, tonnage float64) (*TonnageUpdate, error) {
	if tonnage < 0 {
		return nil, domain.Invalidf("tonnage must not be negative")
	}
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTrip(caller, trip); err != nil {
		return nil, err
	}
	if trip.Status.Terminal() {
		return nil, fmt.Errorf("%w: trip %d is %s", domain.ErrInvalidTransition, tripID, trip.Status)
	}
	remaining, err := s.trips.UpdateTonnage(ctx, tripID, tonnage)
	if err != nil {
		return nil, err
	}
	trip.Tonnage = tonnage
	logging.FromContext(ctx).Info("trip tonnage updated",
		"trip_id", tripID, "tonnage", tonnage, "remaining_tonnage", remaining)
	return &TonnageUpdate{Trip: trip, RemainingTonnage: remaining}, nil
}

// Episodes returns the violation episodes recorded for a trip.
func (s *TripService) Episodes(ctx context.Context, tripID int64) ([]domain.ViolationEpisode, error) {
	if _, err := s.trips.GetByID(ctx, tripID); err != nil {
		return nil, err
	}
	return s.episodes.ListByTrip(ctx, tripID)
}

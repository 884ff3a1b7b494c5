package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
	"github.com/samirrijal/geotrack/internal/pkg/telemetry"
)

// TimerService runs per-trip geofence crossing timers.
type TimerService struct {
	trips      ports.TripRepository
	geofences  ports.GeofenceRepository
	locations  ports.DriverLocationRepository
	timers     ports.TimerRepository
	scheduler  ports.TimerScheduler
	violations *ViolationService
	router     *NotificationRouter
	publisher  ports.EventPublisher
	now        func() time.Time
}

// NewTimerService creates a new TimerService. publisher may be nil.
func NewTimerService(
	trips ports.TripRepository,
	geofences ports.GeofenceRepository,
	locations ports.DriverLocationRepository,
	timers ports.TimerRepository,
	scheduler ports.TimerScheduler,
	violations *ViolationService,
	router *NotificationRouter,
	publisher ports.EventPublisher,
) *TimerService {
	return &TimerService{
		trips:      trips,
		geofences:  geofences,
		locations:  locations,
		timers:     timers,
		scheduler:  scheduler,
		violations: violations,
		router:     router,
		publisher:  publisher,
		now:        time.Now,
	}
}

// Start arms the crossing timer for a trip and its linked geofence. Starting
// a timer that is already running returns it unchanged. Only the trip's
// driver or an admin may start it.
func (s *TimerService) Start(ctx context.Context, caller Caller, tripID, geofenceID int64) (*domain.GeofenceTimer, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTrip(caller, trip); err != nil {
		return nil, err
	}
	g, err := s.geofences.GetByID(ctx, geofenceID)
	if err != nil {
		return nil, err
	}
	if !g.Active {
		return nil, domain.NotFoundf("geofence %d", geofenceID)
	}
	if trip.Status != domain.TripInRoute {
		return nil, fmt.Errorf("trip %d is %s: %w", trip.ID, trip.Status, domain.ErrTripNotActive)
	}
	if !trip.LinkedTo(geofenceID) {
		return nil, domain.ErrGeofenceNotLinked
	}

	now := s.now()
	fireAt := now.Add(g.Allowance())
	t := &domain.GeofenceTimer{
		TripID:     tripID,
		GeofenceID: geofenceID,
		State:      domain.TimerRunning,
		StartedAt:  &now,
		FireAt:     &fireAt,
	}
	started, err := s.timers.Start(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("start timer: %w", err)
	}
	if !started {
		return t, nil
	}

	if err := s.scheduler.ScheduleTimer(ctx, tripID, geofenceID, g.Allowance()); err != nil {
		if _, terr := s.timers.Transition(ctx, tripID, geofenceID, domain.TimerRunning, domain.TimerCancelled, s.now()); terr != nil {
			logging.FromContext(ctx).Error("roll back timer failed", "trip_id", tripID, "geofence_id", geofenceID, "error", terr)
		}
		return nil, fmt.Errorf("schedule timer: %w", err)
	}

	s.emit(ctx, tripID, geofenceID, domain.TimerRunning, now)
	logging.FromContext(ctx).Info("geofence timer started",
		"trip_id", tripID, "geofence_id", geofenceID, "fire_at", fireAt)
	return t, nil
}

// Fire runs when a crossing timer elapses. It re-evaluates the geofence with
// the driver's latest location and tells the trip admin the timer ended.
// A timer that was cancelled, or whose trip left In-Route, yields
// ErrCancelled and has no other effect.
func (s *TimerService) Fire(ctx context.Context, tripID, geofenceID int64) (*domain.CheckResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "TimerService.Fire",
		trace.WithAttributes(
			telemetry.AttrTripID.Int64(tripID),
			telemetry.AttrGeofenceID.Int64(geofenceID),
		))
	defer span.End()

	log := logging.FromContext(ctx).With("trip_id", tripID, "geofence_id", geofenceID)
	now := s.now()

	fired, err := s.timers.Transition(ctx, tripID, geofenceID, domain.TimerRunning, domain.TimerFired, now)
	if err != nil {
		return nil, fmt.Errorf("fire timer: %w", err)
	}
	timer, err := s.timers.Get(ctx, tripID, geofenceID)
	if err != nil {
		return nil, fmt.Errorf("load timer: %w", err)
	}
	// A retried activity finds the timer already Fired and carries on.
	if !fired && timer.State != domain.TimerFired {
		log.Debug("stale timer fire discarded", "state", timer.State)
		return nil, domain.ErrCancelled
	}
	s.emit(ctx, tripID, geofenceID, domain.TimerFired, now)

	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if trip == nil || trip.Status != domain.TripInRoute {
		if _, err := s.timers.Transition(ctx, tripID, geofenceID, domain.TimerFired, domain.TimerCancelled, s.now()); err != nil {
			return nil, fmt.Errorf("cancel timer: %w", err)
		}
		s.emit(ctx, tripID, geofenceID, domain.TimerCancelled, s.now())
		log.Debug("timer fired for inactive trip, discarded")
		return nil, domain.ErrCancelled
	}

	result := &domain.CheckResult{TripID: tripID, Message: MsgNoLocationKnown}
	loc, err := s.locations.GetByDriver(ctx, trip.Driver())
	switch {
	case err == nil:
		result, err = s.violations.EvaluateGeofence(ctx, trip, geofenceID, loc.Location)
		if err != nil {
			return nil, fmt.Errorf("evaluate geofence: %w", err)
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, fmt.Errorf("load driver location: %w", err)
	}

	if msg, ok := TimerEndedMessage(trip); ok {
		key := fmt.Sprintf("timer-ended:%d:%d:%d", tripID, geofenceID, fireStamp(timer))
		result.Deliveries = append(result.Deliveries, s.router.Notify(ctx, key, []Outbound{msg})...)
	}

	if _, err := s.timers.Transition(ctx, tripID, geofenceID, domain.TimerFired, domain.TimerIdle, s.now()); err != nil {
		return nil, fmt.Errorf("reset timer: %w", err)
	}
	s.emit(ctx, tripID, geofenceID, domain.TimerIdle, s.now())
	return result, nil
}

// Cancel stops a running timer. Cancelling a timer that is not running is a
// no-op.
func (s *TimerService) Cancel(ctx context.Context, tripID, geofenceID int64) error {
	if _, err := s.trips.GetByID(ctx, tripID); err != nil {
		return err
	}
	ok, err := s.timers.Transition(ctx, tripID, geofenceID, domain.TimerRunning, domain.TimerCancelled, s.now())
	if err != nil {
		return fmt.Errorf("cancel timer: %w", err)
	}
	if !ok {
		return nil
	}
	s.emit(ctx, tripID, geofenceID, domain.TimerCancelled, s.now())
	if err := s.scheduler.CancelTimer(ctx, tripID, geofenceID); err != nil {
		logging.FromContext(ctx).Warn("cancel scheduled timer failed",
			"trip_id", tripID, "geofence_id", geofenceID, "error", err)
	}
	return nil
}

// CancelTrip cancels every running timer of a trip and returns how many it
// stopped.
func (s *TimerService) CancelTrip(ctx context.Context, tripID int64) (int, error) {
	if _, err := s.trips.GetByID(ctx, tripID); err != nil {
		return 0, err
	}
	timers, err := s.timers.ListByTrip(ctx, tripID)
	if err != nil {
		return 0, fmt.Errorf("list timers: %w", err)
	}
	n := 0
	for _, t := range timers {
		if t.State != domain.TimerRunning {
			continue
		}
		if err := s.Cancel(ctx, tripID, t.GeofenceID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Get returns the timer state for a trip and geofence.
func (s *TimerService) Get(ctx context.Context, tripID, geofenceID int64) (*domain.GeofenceTimer, error) {
	return s.timers.Get(ctx, tripID, geofenceID)
}

func (s *TimerService) emit(ctx context.Context, tripID, geofenceID int64, state domain.TimerState, at time.Time) {
	metrics.GeofenceTimerEvents.WithLabelValues(string(state)).Inc()
	if s.publisher == nil {
		return
	}
	ev := &domain.TimerEvent{TripID: tripID, GeofenceID: geofenceID, State: state, At: at}
	if err := s.publisher.PublishTimerEvent(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("publish timer event failed", "error", err)
	}
}

func fireStamp(t *domain.GeofenceTimer) int64 {
	if t.FireAt == nil {
		return 0
	}
	return t.FireAt.Unix()
}

// cancelScheduled cancels the scheduled callbacks of timers already marked
// Cancelled in storage.
func cancelScheduled(ctx context.Context, scheduler ports.TimerScheduler, timers []domain.GeofenceTimer) {
	if scheduler == nil {
		return
	}
	for _, t := range timers {
		metrics.GeofenceTimerEvents.WithLabelValues(string(domain.TimerCancelled)).Inc()
		if err := scheduler.CancelTimer(ctx, t.TripID, t.GeofenceID); err != nil {
			logging.FromContext(ctx).Warn("cancel scheduled timer failed",
				"trip_id", t.TripID, "geofence_id", t.GeofenceID, "error", err)
		}
	}
}

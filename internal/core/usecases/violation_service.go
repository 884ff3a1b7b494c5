package usecases

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
	"github.com/samirrijal/geotrack/internal/pkg/telemetry"
)

// Result messages returned with a CheckResult.
const (
	MsgNoViolation      = "No geofence violation detected."
	MsgViolation        = "Geofence violation detected. A delay report has been created and the relevant parties notified."
	MsgAlreadyReported  = "Geofence violation already reported for this episode."
	MsgNoActiveTrip     = "No active trip"
	MsgStaleSample      = "Location sample is older than the stored one and was ignored."
	MsgNoLocationKnown  = "No location reported for the driver."
	MsgGeofenceInactive = "Geofence is no longer active."
)

// ViolationService runs geofence evaluations for In-Route trips and turns a
// newly opened episode into a delay report, an event and notifications.
type ViolationService struct {
	trips     ports.TripRepository
	geofences *GeofenceService
	episodes  ports.EpisodeRepository
	timers    ports.TimerRepository
	reports   *DelayReportFactory
	router    *NotificationRouter
	publisher ports.EventPublisher
	evaluator ViolationEvaluator
	now       func() time.Time
}

// NewViolationService creates a new ViolationService. publisher may be nil.
func NewViolationService(
	trips ports.TripRepository,
	geofences *GeofenceService,
	episodes ports.EpisodeRepository,
	timers ports.TimerRepository,
	reports *DelayReportFactory,
	router *NotificationRouter,
	publisher ports.EventPublisher,
) *ViolationService {
	return &ViolationService{
		trips:     trips,
		geofences: geofences,
		episodes:  episodes,
		timers:    timers,
		reports:   reports,
		router:    router,
		publisher: publisher,
		now:       time.Now,
	}
}

// CheckTripGeofence evaluates pos against every active geofence for trip
// tripID on behalf of its driver or an admin.
func (s *ViolationService) CheckTripGeofence(ctx context.Context, caller Caller, tripID int64, pos domain.GeoPoint) (*domain.CheckResult, error) {
	if err := pos.Validate(); err != nil {
		return nil, err
	}
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTrip(caller, trip); err != nil {
		return nil, err
	}
	return s.CheckTrip(ctx, trip, pos)
}

// CheckTrip evaluates pos against every active geofence for an already
// loaded trip.
func (s *ViolationService) CheckTrip(ctx context.Context, trip *domain.Trip, pos domain.GeoPoint) (*domain.CheckResult, error) {
	if trip.Status != domain.TripInRoute {
		return nil, fmt.Errorf("trip %d is %s: %w", trip.ID, trip.Status, domain.ErrTripNotActive)
	}
	fences, err := s.geofences.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list geofences: %w", err)
	}
	return s.evaluate(ctx, trip, pos, fences)
}

// EvaluateGeofence evaluates pos against a single geofence. It is the final
// check made when a crossing timer fires.
func (s *ViolationService) EvaluateGeofence(ctx context.Context, trip *domain.Trip, geofenceID int64, pos domain.GeoPoint) (*domain.CheckResult, error) {
	g, err := s.geofences.Get(ctx, geofenceID)
	if err != nil {
		return nil, err
	}
	if !g.Active {
		return &domain.CheckResult{TripID: trip.ID, Message: MsgGeofenceInactive}, nil
	}
	return s.evaluate(ctx, trip, pos, []domain.Geofence{*g})
}

func (s *ViolationService) evaluate(ctx context.Context, trip *domain.Trip, pos domain.GeoPoint, fences []domain.Geofence) (*domain.CheckResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ViolationService.evaluate",
		trace.WithAttributes(
			telemetry.AttrTripID.Int64(trip.ID),
			telemetry.AttrDriverID.Int64(trip.Driver()),
		))
	defer span.End()

	start := time.Now()
	defer func() { metrics.EvaluationDuration.Observe(time.Since(start).Seconds()) }()

	log := logging.FromContext(ctx).With("trip_id", trip.ID)

	timers, err := s.timers.ListByTrip(ctx, trip.ID)
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}

	now := s.now()
	ev, err := s.evaluator.Evaluate(trip, pos, fences, timerAnchors(timers), now)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := &domain.CheckResult{TripID: trip.ID, Message: MsgNoViolation}

	for _, gid := range ev.Compliant {
		resolved, err := s.episodes.Resolve(ctx, trip.ID, gid, domain.ResolvedReentry, now)
		if err != nil {
			log.Warn("resolve episode failed", "geofence_id", gid, "error", err)
			continue
		}
		if resolved {
			metrics.EpisodesResolved.WithLabelValues(domain.ResolvedReentry).Inc()
			result.ResolvedEpisodes = append(result.ResolvedEpisodes, gid)
		}
	}

	m := ev.Violation
	if m == nil {
		return result, nil
	}

	span.SetAttributes(
		telemetry.AttrGeofenceID.Int64(m.Geofence.ID),
		telemetry.AttrViolation.String(string(m.Kind)),
	)
	result.ViolationFound = true
	result.GeofenceID = m.Geofence.ID
	result.Kind = m.Kind

	report, opened, err := s.reports.CreateAutoReport(ctx, trip, m.Geofence.ID, m.Kind, domain.ReasonRouteDeviation)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("open violation episode: %w", err)
	}
	if !opened {
		result.AlreadyReported = true
		result.Message = MsgAlreadyReported
		return result, nil
	}

	metrics.ViolationsDetected.WithLabelValues(string(m.Kind)).Inc()
	result.ReportID = report.ID
	result.Message = MsgViolation
	result.ProviderInside = s.geofences.CrossCheck(ctx, &m.Geofence, pos, true)

	event := &domain.ViolationEvent{
		EventKey:   violationEventKey(trip.ID, m.Geofence.ID, report.ID),
		TripID:     trip.ID,
		GeofenceID: m.Geofence.ID,
		DriverID:   trip.Driver(),
		Kind:       m.Kind,
		ReportID:   report.ID,
		DistanceKm: m.DistanceKm,
		Elapsed:    m.Elapsed,
		Position:   pos,
		DetectedAt: now,
	}
	log.Info("geofence violation detected",
		"geofence_id", m.Geofence.ID,
		"kind", m.Kind,
		"distance_km", m.DistanceKm,
		"report_id", report.ID)

	if s.publisher != nil {
		if err := s.publisher.PublishViolation(ctx, event); err != nil {
			log.Warn("publish violation failed", "error", err)
		}
	}

	fence := m.Geofence
	result.Deliveries = s.router.Notify(ctx, event.EventKey, s.router.ViolationMessages(ctx, trip, &fence))
	if err := s.episodes.MarkNotified(ctx, trip.ID, m.Geofence.ID, s.now()); err != nil {
		log.Warn("mark episode notified failed", "error", err)
	}
	return result, nil
}

// MarkTripDelayed opens the trip-level delay episode with a "Trip delay"
// report. A second call while the episode is open reports nothing new.
func (s *ViolationService) MarkTripDelayed(ctx context.Context, trip *domain.Trip) (*domain.CheckResult, error) {
	if trip.Status != domain.TripInRoute {
		return nil, fmt.Errorf("trip %d is %s: %w", trip.ID, trip.Status, domain.ErrTripNotActive)
	}
	report, opened, err := s.reports.CreateAutoReport(ctx, trip, TripLevelGeofence, domain.ViolationTripDelay, domain.ReasonTripDelay)
	if err != nil {
		return nil, err
	}
	result := &domain.CheckResult{
		TripID:         trip.ID,
		ViolationFound: true,
		Kind:           domain.ViolationTripDelay,
	}
	if !opened {
		result.AlreadyReported = true
		result.Message = "Trip delay already reported."
		return result, nil
	}
	metrics.ViolationsDetected.WithLabelValues(string(domain.ViolationTripDelay)).Inc()
	result.ReportID = report.ID
	result.Message = "Trip marked as delayed."

	if admin := trip.Admin(); admin != 0 {
		key := fmt.Sprintf("trip-delay:%d:%d", trip.ID, report.ID)
		result.Deliveries = s.router.Notify(ctx, key, []Outbound{{
			RecipientID: admin,
			Title:       "Trip delayed",
			Body:        fmt.Sprintf("Driver %s reported that trip %d is delayed.", s.router.displayName(ctx, trip.Driver()), trip.ID),
		}})
	}
	return result, nil
}

func violationEventKey(tripID, geofenceID, reportID int64) string {
	return fmt.Sprintf("violation:%d:%d:%d", tripID, geofenceID, reportID)
}

package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
	"github.com/samirrijal/geotrack/internal/pkg/telemetry"
)

const (
	defaultNearbyLimit = 50
	maxNearbyRadiusKm  = 500
)

// LocationService ingests driver positions and feeds them into the
// violation check of the driver's active trip.
type LocationService struct {
	users      ports.UserRepository
	trips      ports.TripRepository
	locations  ports.DriverLocationRepository
	violations *ViolationService
	publisher  ports.EventPublisher
	now        func() time.Time
}

// NewLocationService creates a new LocationService. publisher may be nil.
func NewLocationService(
	users ports.UserRepository,
	trips ports.TripRepository,
	locations ports.DriverLocationRepository,
	violations *ViolationService,
	publisher ports.EventPublisher,
) *LocationService {
	return &LocationService{
		users:      users,
		trips:      trips,
		locations:  locations,
		violations: violations,
		publisher:  publisher,
		now:        time.Now,
	}
}

// ReportLocation stores a driver position and checks it against the
// geofences of the driver's In-Route trip. A sample older than the stored
// one is ignored. A zero capturedAt means now.
func (s *LocationService) ReportLocation(ctx context.Context, driverID int64, pos domain.GeoPoint, capturedAt time.Time) (*domain.CheckResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "LocationService.ReportLocation",
		trace.WithAttributes(telemetry.AttrDriverID.Int64(driverID)))
	defer span.End()

	if err := pos.Validate(); err != nil {
		return nil, err
	}
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}
	if err := s.requireDriver(ctx, driverID); err != nil {
		return nil, err
	}

	applied, err := s.locations.Upsert(ctx, &domain.DriverLocation{
		DriverID:   driverID,
		Location:   pos,
		CapturedAt: capturedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("store location: %w", err)
	}
	if !applied {
		metrics.LocationsReported.WithLabelValues("stale").Inc()
		return &domain.CheckResult{Message: MsgStaleSample}, nil
	}
	metrics.LocationsReported.WithLabelValues("applied").Inc()

	if s.publisher != nil {
		ev := &domain.LocationEvent{DriverID: driverID, Lat: pos.Lat, Lon: pos.Lon, CapturedAt: capturedAt}
		if err := s.publisher.PublishLocation(ctx, ev); err != nil {
			logging.FromContext(ctx).Warn("publish location failed", "driver_id", driverID, "error", err)
		}
	}

	trip, err := s.trips.ActiveByDriver(ctx, driverID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.CheckResult{Message: MsgNoActiveTrip}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active trip: %w", err)
	}
	return s.violations.CheckTrip(ctx, trip, pos)
}

// Get returns the latest stored position of a driver.
func (s *LocationService) Get(ctx context.Context, driverID int64) (*domain.DriverLocation, error) {
	if err := s.requireDriver(ctx, driverID); err != nil {
		return nil, err
	}
	return s.locations.GetByDriver(ctx, driverID)
}

// FindNearby returns drivers within radiusKm of center, closest first.
func (s *LocationService) FindNearby(ctx context.Context, center domain.GeoPoint, radiusKm float64, limit int) ([]domain.DriverLocation, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if !(radiusKm > 0) || radiusKm > maxNearbyRadiusKm {
		return nil, domain.Invalidf("radius_km must be within (0, %d]", maxNearbyRadiusKm)
	}
	if limit <= 0 || limit > defaultNearbyLimit {
		limit = defaultNearbyLimit
	}

	locs, err := s.locations.FindNearby(ctx, center, radiusKm, limit)
	if err != nil {
		return nil, err
	}

	// The store pre-filters by bounding box; exact distance is applied here.
	out := locs[:0]
	for _, l := range locs {
		d, err := center.DistanceKm(l.Location)
		if err != nil || d > radiusKm {
			continue
		}
		dist := d
		l.Distance = &dist
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Distance < *out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LocationService) requireDriver(ctx context.Context, driverID int64) error {
	u, err := s.users.GetByID(ctx, driverID)
	if err != nil {
		return err
	}
	if u.Role != domain.RoleDriver {
		return fmt.Errorf("user %d is not a driver: %w", driverID, domain.ErrForbidden)
	}
	return nil
}

package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
)

const (
	activeGeofencesKey = "geofences:active"
	activeGeofencesTTL = 60
)

// CreateGeofenceInput is the admin request to draw a geofence.
type CreateGeofenceInput struct {
	Center         domain.GeoPoint
	RadiusKm       float64
	AllowedMinutes int
	CreatedBy      int64
	Regenerate     bool
}

// GeofenceService manages geofence definitions.
type GeofenceService struct {
	geofences ports.GeofenceRepository
	provider  ports.GeofenceProvider
	scheduler ports.TimerScheduler
	cache     ports.CacheService
	now       func() time.Time
}

// NewGeofenceService creates a new GeofenceService. provider, scheduler and
// cache may be nil.
func NewGeofenceService(
	geofences ports.GeofenceRepository,
	provider ports.GeofenceProvider,
	scheduler ports.TimerScheduler,
	cache ports.CacheService,
) *GeofenceService {
	return &GeofenceService{
		geofences: geofences,
		provider:  provider,
		scheduler: scheduler,
		cache:     cache,
		now:       time.Now,
	}
}

func geofenceName(center domain.GeoPoint, at time.Time) string {
	return fmt.Sprintf("Geofence_%.6f_%.6f_%s", center.Lat, center.Lon, at.UTC().Format(time.RFC3339))
}

// Create validates and stores a geofence, mirrors it to the external provider
// and, if requested, starts its regeneration cycle.
func (s *GeofenceService) Create(ctx context.Context, in CreateGeofenceInput) (*domain.Geofence, error) {
	now := s.now()
	g := &domain.Geofence{
		Name:           geofenceName(in.Center, now),
		Center:         in.Center,
		RadiusKm:       in.RadiusKm,
		AllowedMinutes: in.AllowedMinutes,
		Active:         true,
		Regenerate:     in.Regenerate,
		CreatedAt:      now,
	}
	if in.CreatedBy != 0 {
		creator := in.CreatedBy
		g.CreatedBy = &creator
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	if err := s.geofences.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create geofence: %w", err)
	}
	s.invalidate(ctx)
	s.registerWithProvider(ctx, g)

	if g.Regenerate && s.scheduler != nil {
		if err := s.scheduler.ScheduleRegeneration(ctx, g.ID, g.Allowance()); err != nil {
			logging.FromContext(ctx).Warn("schedule geofence regeneration failed", "geofence_id", g.ID, "error", err)
		}
	}
	return g, nil
}

// Get returns a geofence by id.
func (s *GeofenceService) Get(ctx context.Context, id int64) (*domain.Geofence, error) {
	return s.geofences.GetByID(ctx, id)
}

// ListActive returns the active geofences ordered by id, read through the cache.
func (s *GeofenceService) ListActive(ctx context.Context) ([]domain.Geofence, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, activeGeofencesKey); err == nil {
			var fences []domain.Geofence
			if err := json.Unmarshal(data, &fences); err == nil {
				metrics.CacheHits.WithLabelValues("geofences_active").Inc()
				return fences, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("geofences_active").Inc()
	}

	fences, err := s.geofences.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(fences); err == nil {
			_ = s.cache.Set(ctx, activeGeofencesKey, data, activeGeofencesTTL)
		}
	}
	return fences, nil
}

// Delete deactivates a geofence, cancels its pending timers and stops its
// regeneration cycle.
func (s *GeofenceService) Delete(ctx context.Context, id int64) error {
	g, err := s.geofences.GetByID(ctx, id)
	if err != nil {
		return err
	}
	cancelled, err := s.geofences.Deactivate(ctx, id, s.now())
	if err != nil {
		return fmt.Errorf("deactivate geofence: %w", err)
	}
	s.invalidate(ctx)
	cancelScheduled(ctx, s.scheduler, cancelled)

	if g.Regenerate && s.scheduler != nil {
		if err := s.scheduler.CancelRegeneration(ctx, id); err != nil {
			logging.FromContext(ctx).Warn("cancel geofence regeneration failed", "geofence_id", id, "error", err)
		}
	}
	return nil
}

// Regenerate replaces geofence id with a fresh copy and returns the copy.
// It returns ErrCancelled when the geofence was deleted, superseded or had
// regeneration turned off, which ends the cycle.
func (s *GeofenceService) Regenerate(ctx context.Context, id int64) (*domain.Geofence, error) {
	old, err := s.geofences.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !old.Active || !old.Regenerate || old.SupersededBy != nil {
		return nil, domain.ErrCancelled
	}

	now := s.now()
	next := &domain.Geofence{
		Name:           geofenceName(old.Center, now),
		Center:         old.Center,
		RadiusKm:       old.RadiusKm,
		AllowedMinutes: old.AllowedMinutes,
		CreatedBy:      old.CreatedBy,
		Active:         true,
		Regenerate:     true,
		CreatedAt:      now,
	}
	cancelled, err := s.geofences.Supersede(ctx, id, next)
	if err != nil {
		return nil, fmt.Errorf("supersede geofence %d: %w", id, err)
	}
	s.invalidate(ctx)
	cancelScheduled(ctx, s.scheduler, cancelled)
	s.registerWithProvider(ctx, next)

	logging.FromContext(ctx).Info("geofence regenerated", "old_id", id, "new_id", next.ID)
	return next, nil
}

// CrossCheck asks the external provider whether pos is inside g and compares
// the answer with the local verdict. The local verdict stands either way; nil
// means the provider was not asked or did not answer.
func (s *GeofenceService) CrossCheck(ctx context.Context, g *domain.Geofence, pos domain.GeoPoint, outside bool) *bool {
	if s.provider == nil || g.ProviderRef == "" {
		return nil
	}
	inside, err := s.provider.CheckGeofence(ctx, pos, g.ProviderRef)
	if err != nil {
		metrics.ProviderChecks.WithLabelValues("error").Inc()
		logging.FromContext(ctx).Warn("geofence provider check failed", "geofence_id", g.ID, "error", err)
		return nil
	}
	if inside == outside {
		metrics.ProviderChecks.WithLabelValues("disagree").Inc()
		logging.FromContext(ctx).Warn("geofence provider disagrees",
			"geofence_id", g.ID, "provider_inside", inside, "lat", pos.Lat, "lon", pos.Lon)
	} else {
		metrics.ProviderChecks.WithLabelValues("agree").Inc()
	}
	return &inside
}

func (s *GeofenceService) registerWithProvider(ctx context.Context, g *domain.Geofence) {
	if s.provider == nil {
		return
	}
	ref, err := s.provider.CreateGeofence(ctx, g.Center, g.RadiusKm)
	if err != nil {
		logging.FromContext(ctx).Warn("geofence provider registration failed", "geofence_id", g.ID, "error", err)
		return
	}
	if err := s.geofences.SetProviderRef(ctx, g.ID, ref); err != nil {
		logging.FromContext(ctx).Warn("store provider ref failed", "geofence_id", g.ID, "error", err)
		return
	}
	g.ProviderRef = ref
}

func (s *GeofenceService) invalidate(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, activeGeofencesKey)
	}
}

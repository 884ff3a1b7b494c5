package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/samirrijal/geotrack/internal/app"
	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/usecases"
	"github.com/samirrijal/geotrack/internal/pkg/config"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
)

// Manifest describes geofences to seed and device samples to replay.
type Manifest struct {
	Source    string          `yaml:"source"`
	Geofences []GeofenceEntry `yaml:"geofences"`
	Replay    *ReplayEntry    `yaml:"replay,omitempty"`
}

type GeofenceEntry struct {
	Name       string  `yaml:"name"`
	Lat        float64 `yaml:"lat"`
	Lng        float64 `yaml:"lng"`
	RadiusKm   float64 `yaml:"radius_km"`
	TimeLimit  int     `yaml:"time_limit"`
	CreatedBy  int64   `yaml:"created_by"`
	Regenerate bool    `yaml:"regenerate"`
}

type ReplayEntry struct {
	PerSecond float64       `yaml:"per_second"`
	Samples   []SampleEntry `yaml:"samples"`
}

type SampleEntry struct {
	DriverID int64   `yaml:"driver_id"`
	Lat      float64 `yaml:"lat"`
	Lng      float64 `yaml:"lng"`
	// Offset from the start of the replay.
	Offset time.Duration `yaml:"offset"`
}

func main() {
	cfg, err := config.Load("geotrack-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	manifestPath := "manifest.yaml"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}
	manifest, err := loadManifest(manifestPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	slog.Info("geotrack ingestor", "source", manifest.Source,
		"geofences", len(manifest.Geofences), "replay", manifest.Replay != nil)

	seedGeofences(ctx, a.Geofences, manifest.Geofences)

	if manifest.Replay != nil {
		if a.Publisher == nil {
			log.Fatal("replay requires NATS")
		}
		if err := replay(ctx, a.Publisher, manifest.Replay); err != nil {
			log.Fatalf("replay: %v", err)
		}
	}
	slog.Info("ingestion complete")
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// seedGeofences creates geofences concurrently; provider registration is the
// slow part.
func seedGeofences(ctx context.Context, svc *usecases.GeofenceService, entries []GeofenceEntry) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, 4)

	for _, e := range entries {
		wg.Add(1)
		go func(e GeofenceEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			g, err := svc.Create(ctx, usecases.CreateGeofenceInput{
				Center:         domain.GeoPoint{Lat: e.Lat, Lon: e.Lng},
				RadiusKm:       e.RadiusKm,
				AllowedMinutes: e.TimeLimit,
				CreatedBy:      e.CreatedBy,
				Regenerate:     e.Regenerate,
			})
			if err != nil {
				slog.Error("seed geofence failed", "name", e.Name, "error", err)
				return
			}
			slog.Info("geofence created", "name", e.Name, "id", g.ID, "provider_ref", g.ProviderRef)
		}(e)
	}
	wg.Wait()
}

type samplePublisher interface {
	PublishDeviceSample(ctx context.Context, ev *domain.LocationEvent) error
}

// replay publishes samples onto the device stream, stamped relative to now
// and paced by the configured rate.
func replay(ctx context.Context, pub samplePublisher, r *ReplayEntry) error {
	limit := rate.Inf
	if r.PerSecond > 0 {
		limit = rate.Limit(r.PerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)
	start := time.Now()

	for i, s := range r.Samples {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		ev := &domain.LocationEvent{
			DriverID:   s.DriverID,
			Lat:        s.Lat,
			Lon:        s.Lng,
			CapturedAt: start.Add(s.Offset),
		}
		if err := pub.PublishDeviceSample(ctx, ev); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	slog.Info("replay published", "samples", len(r.Samples))
	return nil
}

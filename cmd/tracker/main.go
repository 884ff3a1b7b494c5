package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	natsadapter "github.com/samirrijal/geotrack/internal/adapters/nats"
	"github.com/samirrijal/geotrack/internal/app"
	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/pkg/config"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
	"github.com/samirrijal/geotrack/internal/pkg/telemetry"
)

const metricsAddr = ":9102"

func main() {
	cfg, err := config.Load("geotrack-tracker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr, cfg.Telemetry.SampleRatio)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	err = sub.SubscribeLocations(ctx, func(ctx context.Context, ev *domain.LocationEvent) error {
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("driver_id", ev.DriverID))
		res, err := a.Locations.ReportLocation(ctx, ev.DriverID, domain.GeoPoint{Lat: ev.Lat, Lon: ev.Lon}, ev.CapturedAt)
		switch {
		// Samples that can never succeed are acknowledged, not redelivered.
		case errors.Is(err, domain.ErrInvalidCoordinate),
			errors.Is(err, domain.ErrInvalidInput),
			errors.Is(err, domain.ErrForbidden),
			errors.Is(err, domain.ErrNotFound),
			errors.Is(err, domain.ErrTripNotActive):
			logging.FromContext(ctx).Warn("location sample rejected", "error", err)
			return nil
		case err != nil:
			return err
		}
		if res.ViolationFound && !res.AlreadyReported {
			logging.FromContext(ctx).Info("violation raised from device stream",
				"trip_id", res.TripID, "geofence_id", res.GeofenceID, "kind", res.Kind)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe locations: %v", err)
	}

	go a.ReportPoolMetrics(ctx, 15*time.Second)

	// Metrics only; the tracker has no public API.
	ops := fiber.New(fiber.Config{DisableStartupMessage: true})
	ops.Get("/metrics", metrics.Handler())
	ops.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	go func() {
		if err := ops.Listen(metricsAddr); err != nil {
			slog.Error("metrics listener stopped", "error", err)
		}
	}()

	slog.Info("tracker consuming device locations", "subject", natsadapter.SubjectDeviceLocation+">")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("tracker shutting down")
	_ = ops.Shutdown()
}

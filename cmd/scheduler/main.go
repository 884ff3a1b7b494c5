package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/geotrack/internal/app"
	"github.com/samirrijal/geotrack/internal/pkg/config"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
	"github.com/samirrijal/geotrack/internal/pkg/telemetry"
	"github.com/samirrijal/geotrack/internal/workflows"
)

func main() {
	cfg, err := config.Load("geotrack-scheduler")
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

	w := worker.New(a.Temporal, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.GeofenceTimerWorkflow)
	w.RegisterWorkflow(workflows.GeofenceRegenerationWorkflow)
	w.RegisterActivity(&workflows.GeofenceActivities{
		Timers:    a.Timers,
		Geofences: a.Geofences,
	})

	slog.Info("geofence scheduler worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

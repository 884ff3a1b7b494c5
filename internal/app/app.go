// Package app wires adapters and use cases into a running service graph
// shared by the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/samirrijal/geotrack/internal/adapters/auth"
	"github.com/samirrijal/geotrack/internal/adapters/geoprovider"
	"github.com/samirrijal/geotrack/internal/adapters/http"
	"github.com/samirrijal/geotrack/internal/adapters/maps"
	natsadapter "github.com/samirrijal/geotrack/internal/adapters/nats"
	"github.com/samirrijal/geotrack/internal/adapters/postgres"
	"github.com/samirrijal/geotrack/internal/adapters/push"
	temporaladapter "github.com/samirrijal/geotrack/internal/adapters/temporal"
	"github.com/samirrijal/geotrack/internal/adapters/valkey"
	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/core/usecases"
	"github.com/samirrijal/geotrack/internal/pkg/config"
)

// App holds the connected infrastructure and every use case.
type App struct {
	Config    *config.Config
	DB        *postgres.DB
	Cache     *valkey.Cache          // nil when valkey is unreachable
	Publisher *natsadapter.Publisher // nil when NATS is unreachable
	Temporal  client.Client
	Scheduler *temporaladapter.Scheduler

	Live       *usecases.LiveChannelRegistry
	Router     *usecases.NotificationRouter
	Geofences  *usecases.GeofenceService
	Violations *usecases.ViolationService
	Locations  *usecases.LocationService
	Timers     *usecases.TimerService
	Trips      *usecases.TripService
	Reports    *usecases.DelayReportService
	Inbox      *usecases.InboxService

	closers []func()
}

// New connects to Postgres and Temporal, which are required, and to valkey,
// NATS and the external providers, which degrade to disabled when absent.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.DB = db
	a.onClose(db.Close)

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	a.Temporal = tc
	a.onClose(tc.Close)
	a.Scheduler = temporaladapter.NewScheduler(tc, cfg.Temporal.TaskQueue)

	var cache ports.CacheService
	if c, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable, caching and dedup disabled", "error", err)
	} else {
		a.Cache = c
		cache = c
		a.onClose(c.Close)
	}

	var publisher ports.EventPublisher
	var broker ports.RecipientBroker
	if p, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable, events and cross-instance delivery disabled", "error", err)
	} else {
		a.Publisher = p
		publisher = p
		broker = natsadapter.NewBroker(p.Conn(), time.Duration(cfg.Notifications.LiveTimeoutMillis)*time.Millisecond)
		a.onClose(p.Close)
	}

	var pusher ports.PushSender
	if cfg.Push.Enabled {
		s, err := push.NewFCMSender(ctx, cfg.Push.ProjectID, cfg.Push.CredentialsFile, cfg.Push.RatePerSecond)
		if err != nil {
			slog.Warn("push disabled", "error", err)
		} else {
			pusher = s
		}
	}

	var planner ports.RoutePlanner
	if cfg.Maps.APIKey != "" {
		p, err := maps.NewRoutePlanner(cfg.Maps.APIKey)
		if err != nil {
			slog.Warn("route planning disabled", "error", err)
		} else {
			planner = p
		}
	}

	var provider ports.GeofenceProvider
	if cfg.GeofenceProvider.BaseURL != "" {
		provider = geoprovider.New(geoprovider.Options{
			BaseURL:       cfg.GeofenceProvider.BaseURL,
			APIKey:        cfg.GeofenceProvider.APIKey,
			Timeout:       time.Duration(cfg.GeofenceProvider.TimeoutSeconds) * time.Second,
			RatePerSecond: cfg.GeofenceProvider.RatePerSecond,
		})
	}

	users := postgres.NewUserRepo(db)
	trips := postgres.NewTripRepo(db)
	fences := postgres.NewGeofenceRepo(db)
	episodes := postgres.NewEpisodeRepo(db)
	timers := postgres.NewTimerRepo(db)
	locations := postgres.NewDriverLocationRepo(db)
	notifications := postgres.NewNotificationRepo(db)

	a.Live = usecases.NewLiveChannelRegistry(broker)
	a.onClose(a.Live.Close)

	a.Router = usecases.NewNotificationRouter(users, notifications, a.Live, pusher, cache, cfg.Notifications.DedupTTLSeconds)
	a.Geofences = usecases.NewGeofenceService(fences, provider, a.Scheduler, cache)
	a.Violations = usecases.NewViolationService(trips, a.Geofences, episodes, timers,
		usecases.NewDelayReportFactory(episodes), a.Router, publisher)
	a.Locations = usecases.NewLocationService(users, trips, locations, a.Violations, publisher)
	a.Timers = usecases.NewTimerService(trips, fences, locations, timers, a.Scheduler, a.Violations, a.Router, publisher)
	a.Trips = usecases.NewTripService(trips, postgres.NewVehicleRepo(db), users, fences, episodes,
		planner, a.Scheduler, a.Violations, a.Router)
	a.Reports = usecases.NewDelayReportService(postgres.NewDelayReportRepo(db), trips, a.Router)
	a.Inbox = usecases.NewInboxService(notifications)

	return a, nil
}

// HTTPDependencies exposes the use cases to the HTTP adapter.
func (a *App) HTTPDependencies(v *auth.Verifier) *http.Dependencies {
	deps := &http.Dependencies{
		Locations:  a.Locations,
		Violations: a.Violations,
		Timers:     a.Timers,
		Geofences:  a.Geofences,
		Trips:      a.Trips,
		Reports:    a.Reports,
		Inbox:      a.Inbox,
		Live:       a.Live,
		Auth:       v,
		DB:         a.DB,
	}
	if a.Cache != nil {
		deps.Cache = a.Cache
	}
	if a.Publisher != nil {
		deps.NATS = a.Publisher.Conn()
	}
	return deps
}

// ReportPoolMetrics samples the database pool until ctx is done.
func (a *App) ReportPoolMetrics(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.DB.ReportPoolMetrics()
		}
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

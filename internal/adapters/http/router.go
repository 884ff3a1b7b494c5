package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
)

const requestTimeout = 15 * time.Second

func withTimeout(h fiber.Handler) fiber.Handler {
	return timeout.NewWithContext(h, requestTimeout)
}

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// 240 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        240,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())
	app.Use(DeprecationMiddleware(legacyRoutes))

	// Health & readiness (no auth, no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	SetupDocs(app)

	// Realtime channels authenticate with ?token= before the upgrade.
	app.Get("/ws/notifications",
		WebSocketAuth(deps.Auth, domain.RoleDriver, domain.RoleAdmin),
		websocket.New(LiveChannelHandler(deps.Live)))
	app.Get("/ws/feed",
		WebSocketAuth(deps.Auth, domain.RoleAdmin),
		websocket.New(FeedHandler(deps.NATS)))

	app.Post("/graphql", AuthMiddleware(deps.Auth), GraphQLHandler(deps))

	v1 := app.Group("/v1", AuthMiddleware(deps.Auth))
	anyone := RequireRole(domain.RoleDriver, domain.RoleAdmin)
	driver := RequireRole(domain.RoleDriver)
	admin := RequireRole(domain.RoleAdmin)

	// Tracking
	v1.Post("/locations", driver, withTimeout(ReportLocationHandler(deps)))
	v1.Post("/trips/:id/check-geofence", anyone, withTimeout(CheckTripGeofenceHandler(deps)))
	v1.Post("/trips/:id/geofences/:geofenceId/timer", anyone, withTimeout(StartTimerHandler(deps)))
	v1.Get("/trips/:id/geofences/:geofenceId/timer", anyone, withTimeout(GetTimerHandler(deps)))
	v1.Delete("/trips/:id/geofences/:geofenceId/timer", admin, withTimeout(CancelTimerHandler(deps)))
	v1.Delete("/trips/:id/timers", admin, withTimeout(CancelTripTimersHandler(deps)))
	v1.Get("/drivers/nearby", admin, withTimeout(NearbyDriversHandler(deps)))
	v1.Get("/drivers/:id/location", anyone, withTimeout(DriverLocationHandler(deps)))

	// Geofences
	v1.Post("/geofences", admin, withTimeout(CreateGeofenceHandler(deps)))
	v1.Get("/geofences", anyone, withTimeout(ListGeofencesHandler(deps)))
	v1.Get("/geofences/:id", anyone, withTimeout(GetGeofenceHandler(deps)))
	v1.Delete("/geofences/:id", admin, withTimeout(DeleteGeofenceHandler(deps)))
	v1.Post("/geofences/:id/regenerate", admin, withTimeout(RegenerateGeofenceHandler(deps)))

	// Trips
	v1.Post("/trips", admin, withTimeout(CreateTripHandler(deps)))
	v1.Get("/trips/:id", anyone, withTimeout(GetTripHandler(deps)))
	v1.Get("/vehicles/:id/trips", admin, withTimeout(VehicleTripsHandler(deps)))
	v1.Patch("/trips/:id/status", anyone, withTimeout(UpdateTripStatusHandler(deps)))
	v1.Post("/trips/:id/assign", admin, withTimeout(AssignTripHandler(deps)))
	v1.Put("/trips/:id/geofence", admin, withTimeout(LinkGeofenceHandler(deps)))
	v1.Post("/trips/:id/intermediate-destinations", admin, withTimeout(AddDestinationHandler(deps)))
	v1.Get("/trips/:id/intermediate-destinations", anyone, withTimeout(ListDestinationsHandler(deps)))
	v1.Post("/trips/:id/delay", driver, withTimeout(MarkTripDelayedHandler(deps)))
	v1.Get("/trips/:id/episodes", admin, withTimeout(TripEpisodesHandler(deps)))
	v1.Post("/trips/:id/vote", driver, withTimeout(VoteTripHandler(deps)))
	v1.Put("/trips/:id/tonnage", anyone, withTimeout(UpdateTonnageHandler(deps)))

	// Legacy aliases, see legacyRoutes
	v1.Put("/trips/update_trip_status/:id", anyone, withTimeout(UpdateTripStatusHandler(deps)))
	v1.Post("/trips/start-geofence-timer/:id/:geofenceId", anyone, withTimeout(StartTimerHandler(deps)))

	// Delay reports
	v1.Post("/delay-reports", driver, withTimeout(SubmitDelayReportHandler(deps)))
	v1.Get("/drivers/:id/delay-reports", anyone, withTimeout(DriverDelayReportsHandler(deps)))
	v1.Post("/delay-reports/:id/acknowledge", admin, withTimeout(AcknowledgeDelayReportHandler(deps)))
	v1.Get("/driver-reports", admin, withTimeout(DriverReportsHandler(deps)))

	// Notification inbox
	v1.Get("/notifications", anyone, withTimeout(ListNotificationsHandler(deps)))
	v1.Post("/notifications/:id/read", anyone, withTimeout(MarkNotificationReadHandler(deps)))
}

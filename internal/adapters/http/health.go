package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

var (
	errNotConfigured = errors.New("not configured")
	errDisconnected  = errors.New("disconnected")
)

// depCheck tests one backing dependency. Optional checks report their state
// without failing readiness when unconfigured.
type depCheck struct {
	name     string
	optional bool
	check    func(ctx context.Context) error
}

func readinessChecks(deps *Dependencies) []depCheck {
	checks := []depCheck{{name: "database", check: pingOrMissing(deps.DB)}}

	checks = append(checks, depCheck{name: "nats", optional: deps.NATS == nil, check: func(context.Context) error {
		switch {
		case deps.NATS == nil:
			return errNotConfigured
		case !deps.NATS.IsConnected():
			return errDisconnected
		}
		return nil
	}})

	return append(checks, depCheck{name: "cache", optional: deps.Cache == nil, check: pingOrMissing(deps.Cache)})
}

func pingOrMissing(p Pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if p == nil {
			return errNotConfigured
		}
		return p.Ping(ctx)
	}
}

// HealthHandler answers liveness. It never touches dependencies.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":  "healthy",
			"uptime":  time.Since(startedAt).Round(time.Second).String(),
			"version": Version,
		}
		if deps.Live != nil {
			body["live_connections"] = deps.Live.Len()
		}
		return c.JSON(body)
	}
}

// ReadyHandler runs every readiness check and answers 503 if a required one
// fails.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		ready := true
		checks := make(map[string]string)
		for _, dc := range readinessChecks(deps) {
			err := dc.check(ctx)
			switch {
			case err == nil:
				checks[dc.name] = "ok"
			case errors.Is(err, errNotConfigured) || errors.Is(err, errDisconnected):
				checks[dc.name] = err.Error()
				ready = ready && dc.optional
			default:
				checks[dc.name] = "error: " + err.Error()
				ready = false
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "checks": checks})
		}
		return c.JSON(fiber.Map{"status": "ready", "checks": checks})
	}
}

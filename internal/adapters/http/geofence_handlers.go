package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/usecases"
)

type createGeofenceBody struct {
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Radius     float64  `json:"radius"`
	TimeLimit  int      `json:"time_limit"`
	Regenerate bool     `json:"regenerate"`
}

// CreateGeofenceHandler draws a new geofence. Radius is in kilometres and
// time_limit in minutes.
func CreateGeofenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body createGeofenceBody
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if body.Lat == nil || body.Lng == nil {
			return errBadRequest(c, "lat and lng are required")
		}

		g, err := deps.Geofences.Create(c.UserContext(), usecases.CreateGeofenceInput{
			Center:         domain.GeoPoint{Lat: *body.Lat, Lon: *body.Lng},
			RadiusKm:       body.Radius,
			AllowedMinutes: body.TimeLimit,
			CreatedBy:      callerFrom(c).ID,
			Regenerate:     body.Regenerate,
		})
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(g)
	}
}

// ListGeofencesHandler returns the active geofences.
func ListGeofencesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fences, err := deps.Geofences.ListActive(c.UserContext())
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(fiber.Map{"data": fences, "count": len(fences)})
	}
}

// GetGeofenceHandler returns one geofence, active or not.
func GetGeofenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		g, err := deps.Geofences.Get(c.UserContext(), id)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(g)
	}
}

// DeleteGeofenceHandler deactivates a geofence.
func DeleteGeofenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		if err := deps.Geofences.Delete(c.UserContext(), id); err != nil {
			return writeDomainError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// RegenerateGeofenceHandler supersedes a regenerating geofence immediately.
func RegenerateGeofenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		next, err := deps.Geofences.Regenerate(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				return errConflict(c, "geofence is not active or does not regenerate")
			}
			return writeDomainError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(next)
	}
}

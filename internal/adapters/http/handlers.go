package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/samirrijal/geotrack/internal/core/domain"
)

// positionBody is a reported coordinate. Pointers distinguish 0 from missing.
type positionBody struct {
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (b positionBody) point() (domain.GeoPoint, error) {
	if b.Lat == nil || b.Lng == nil {
		return domain.GeoPoint{}, domain.Invalidf("lat and lng are required")
	}
	p := domain.GeoPoint{Lat: *b.Lat, Lon: *b.Lng}
	if err := p.Validate(); err != nil {
		return domain.GeoPoint{}, err
	}
	return p, nil
}

// paramID parses a positive integer path parameter.
func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalidf("%s must be a positive integer", name)
	}
	return id, nil
}

// ReportLocationHandler stores the caller's position and evaluates the
// geofences of their In-Route trip.
func ReportLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body positionBody
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		pos, err := body.point()
		if err != nil {
			return writeDomainError(c, err)
		}
		var at time.Time
		if body.Timestamp != nil {
			at = *body.Timestamp
		}

		res, err := deps.Locations.ReportLocation(c.UserContext(), callerFrom(c).ID, pos, at)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(res)
	}
}

// CheckTripGeofenceHandler evaluates an explicit position against a trip's
// geofences.
func CheckTripGeofenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tripID, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		var body positionBody
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		pos, err := body.point()
		if err != nil {
			return writeDomainError(c, err)
		}

		res, err := deps.Violations.CheckTripGeofence(c.UserContext(), callerFrom(c), tripID, pos)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(res)
	}
}

// StartTimerHandler starts the crossing timer of a trip's linked geofence.
func StartTimerHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tripID, geofenceID, err := timerParams(c)
		if err != nil {
			return writeDomainError(c, err)
		}
		t, err := deps.Timers.Start(c.UserContext(), callerFrom(c), tripID, geofenceID)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"message": "Geofence timer started",
			"timer":   t,
		})
	}
}

// GetTimerHandler returns the persisted timer state.
func GetTimerHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tripID, geofenceID, err := timerParams(c)
		if err != nil {
			return writeDomainError(c, err)
		}
		t, err := deps.Timers.Get(c.UserContext(), tripID, geofenceID)
		if err != nil {
			return writeDomainError(c, err)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(t)
	}
}

// CancelTimerHandler cancels a running timer.
func CancelTimerHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tripID, geofenceID, err := timerParams(c)
		if err != nil {
			return writeDomainError(c, err)
		}
		if err := deps.Timers.Cancel(c.UserContext(), tripID, geofenceID); err != nil {
			return writeDomainError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// CancelTripTimersHandler stops every running crossing timer of a trip.
func CancelTripTimersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tripID, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		n, err := deps.Timers.CancelTrip(c.UserContext(), tripID)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(fiber.Map{"cancelled": n})
	}
}

func timerParams(c *fiber.Ctx) (int64, int64, error) {
	tripID, err := paramID(c, "id")
	if err != nil {
		return 0, 0, err
	}
	geofenceID, err := paramID(c, "geofenceId")
	if err != nil {
		return 0, 0, err
	}
	return tripID, geofenceID, nil
}

// DriverLocationHandler returns a driver's latest position. Drivers may only
// read their own.
func DriverLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		driverID, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		caller := callerFrom(c)
		if !caller.IsAdmin() && caller.ID != driverID {
			return errForbidden(c, "drivers may only read their own location")
		}
		loc, err := deps.Locations.Get(c.UserContext(), driverID)
		if err != nil {
			return writeDomainError(c, err)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(loc)
	}
}

// NearbyDriversHandler lists drivers within radius_km of lat/lon, closest
// first.
func NearbyDriversHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		latS, lonS := c.Query("lat"), c.Query("lon")
		if latS == "" || lonS == "" {
			return errBadRequest(c, "lat and lon query parameters are required")
		}
		lat, err1 := strconv.ParseFloat(latS, 64)
		lon, err2 := strconv.ParseFloat(lonS, 64)
		if err1 != nil || err2 != nil {
			return errBadRequest(c, "lat and lon must be numbers")
		}
		radius, err := strconv.ParseFloat(c.Query("radius_km", "5"), 64)
		if err != nil || radius <= 0 || radius > 500 {
			return errBadRequest(c, "radius_km must be between 0 and 500")
		}
		limit := c.QueryInt("limit", 20)
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		drivers, err := deps.Locations.FindNearby(c.UserContext(), domain.GeoPoint{Lat: lat, Lon: lon}, radius, limit)
		if err != nil {
			return writeDomainError(c, err)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(fiber.Map{"data": drivers, "count": len(drivers)})
	}
}

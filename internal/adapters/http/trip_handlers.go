package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/samirrijal/geotrack/internal/core/usecases"
)

type createTripBody struct {
	VehicleID                int64    `json:"vehicle_id"`
	Source                   string   `json:"source"`
	Destination              string   `json:"destination"`
	Tonnage                  float64  `json:"tonnage"`
	NextHalt                 string   `json:"next_halt"`
	SafetyInfo               string   `json:"safety_info"`
	IntermediateDestinations []string `json:"intermediate_destinations"`
}

// CreateTripHandler stores a Pending trip owned by the calling admin.
func CreateTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body createTripBody
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if body.VehicleID <= 0 {
			return errBadRequest(c, "vehicle_id is required")
		}
		trip, err := deps.Trips.Create(c.UserContext(), usecases.CreateTripInput{
			VehicleID:   body.VehicleID,
			AdminID:     callerFrom(c).ID,
			Source:      body.Source,
			Destination: body.Destination,
			Tonnage:     body.Tonnage,
			NextHalt:    body.NextHalt,
			SafetyInfo:  body.SafetyInfo,
			Stops:       body.IntermediateDestinations,
		})
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(trip)
	}
}

// GetTripHandler returns a single trip. Drivers only see their own trips.
func GetTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		trip, err := deps.Trips.Get(c.UserContext(), id)
		if err != nil {
			return writeDomainError(c, err)
		}
		caller := callerFrom(c)
		if !caller.IsAdmin() && trip.Driver() != caller.ID {
			return errForbidden(c, "trip is not assigned to you")
		}
		c.Set("Cache-Control", "private, max-age=0")
		return c.JSON(trip)
	}
}

// VehicleTripsHandler lists the trips of a vehicle.
func VehicleTripsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		trips, err := deps.Trips.ListByVehicle(c.UserContext(), id)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(fiber.Map{"data": trips, "count": len(trips)})
	}
}

type statusBody struct {
	Status string `json:"status"`
}

// UpdateTripStatusHandler moves a trip along its lifecycle.
func UpdateTripStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		var body statusBody
		if err := c.BodyParser(&body); err != nil || body.Status == "" {
			return errBadRequest(c, "status is required")
		}
		trip, err := deps.Trips.UpdateStatus(c.UserContext(), callerFrom(c), id, body.Status)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(trip)
	}
}

type assignBody struct {
	DriverID int64 `json:"driver_id"`
}

// AssignTripHandler gives a Pending trip to a driver.
func AssignTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		var body assignBody
		if err := c.BodyParser(&body); err != nil || body.DriverID <= 0 {
			return errBadRequest(c, "driver_id is required")
		}
		trip, deliveries, err := deps.Trips.Assign(c.UserContext(), id, body.DriverID)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(fiber.Map{"trip": trip, "deliveries": deliveries})
	}
}

type linkGeofenceBody struct {
	GeofenceID int64 `json:"geofence_id"`
}

// LinkGeofenceHandler attaches an active geofence to a trip.
func LinkGeofenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		var body linkGeofenceBody
		if err := c.BodyParser(&body); err != nil || body.GeofenceID <= 0 {
			return errBadRequest(c, "geofence_id is required")
		}
		trip, err := deps.Trips.LinkGeofence(c.UserContext(), id, body.GeofenceID)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(trip)
	}
}

type destinationBody struct {
	Destination string `json:"destination"`
}

// AddDestinationHandler appends an intermediate destination.
func AddDestinationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		var body destinationBody
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		d, err := deps.Trips.AddIntermediateDestination(c.UserContext(), id, body.Destination)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(d)
	}
}

// ListDestinationsHandler returns a trip's intermediate destinations in order.
func ListDestinationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		stops, err := deps.Trips.ListIntermediateDestinations(c.UserContext(), id)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(fiber.Map{"data": stops, "count": len(stops)})
	}
}

// MarkTripDelayedHandler files a trip-level delay report.
func MarkTripDelayedHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		res, err := deps.Trips.MarkDelayed(c.UserContext(), callerFrom(c), id)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(res)
	}
}

// TripEpisodesHandler lists a trip's violation episodes.
func TripEpisodesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		episodes, err := deps.Trips.Episodes(c.UserContext(), id)
		if err != nil {
			return writeDomainError(c, err)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(fiber.Map{"data": episodes, "count": len(episodes)})
	}
}

type voteBody struct {
	Vote string `json:"vote"`
}

// VoteTripHandler records an upvote or downvote on a trip.
func VoteTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		var body voteBody
		if err := c.BodyParser(&body); err != nil || body.Vote == "" {
			return errBadRequest(c, "vote is required")
		}
		trip, err := deps.Trips.Vote(c.UserContext(), callerFrom(c), id, body.Vote)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(trip)
	}
}

type tonnageBody struct {
	Tonnage *float64 `json:"tonnage"`
}

// UpdateTonnageHandler changes a trip's load against the vehicle's capacity.
func UpdateTonnageHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		var body tonnageBody
		if err := c.BodyParser(&body); err != nil || body.Tonnage == nil {
			return errBadRequest(c, "tonnage is required")
		}
		res, err := deps.Trips.UpdateTonnage(c.UserContext(), callerFrom(c), id, *body.Tonnage)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(res)
	}
}

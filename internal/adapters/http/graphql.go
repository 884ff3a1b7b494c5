package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/geotrack/internal/adapters/auth"
	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/usecases"
)

func gqlCaller(ctx context.Context) (usecases.Caller, error) {
	claims, ok := auth.FromContext(ctx)
	if !ok {
		return usecases.Caller{}, domain.ErrForbidden
	}
	return usecases.Caller{ID: claims.UserID, Role: claims.Role}, nil
}

func gqlAdmin(ctx context.Context) error {
	caller, err := gqlCaller(ctx)
	if err != nil {
		return err
	}
	if !caller.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}

func gqlID(p graphql.ResolveParams, name string) int64 {
	id, _ := p.Args[name].(int)
	return int64(id)
}

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	geofenceType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Geofence",
		Fields: graphql.Fields{
			"id":              &graphql.Field{Type: graphql.Int},
			"name":            &graphql.Field{Type: graphql.String},
			"center":          &graphql.Field{Type: geoPointType},
			"radius_km":       &graphql.Field{Type: graphql.Float},
			"allowed_minutes": &graphql.Field{Type: graphql.Int},
			"created_by":      &graphql.Field{Type: graphql.Int},
			"active":          &graphql.Field{Type: graphql.Boolean},
			"regenerate":      &graphql.Field{Type: graphql.Boolean},
			"superseded_by":   &graphql.Field{Type: graphql.Int},
			"created_at":      &graphql.Field{Type: graphql.DateTime},
		},
	})

	destinationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "IntermediateDestination",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.Int},
			"destination": &graphql.Field{Type: graphql.String},
			"sequence":    &graphql.Field{Type: graphql.Int},
		},
	})

	episodeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ViolationEpisode",
		Fields: graphql.Fields{
			"trip_id":           &graphql.Field{Type: graphql.Int},
			"geofence_id":       &graphql.Field{Type: graphql.Int},
			"state":             &graphql.Field{Type: graphql.String},
			"kind":              &graphql.Field{Type: graphql.String},
			"report_id":         &graphql.Field{Type: graphql.Int},
			"opened_at":         &graphql.Field{Type: graphql.DateTime},
			"resolved_at":       &graphql.Field{Type: graphql.DateTime},
			"resolution_reason": &graphql.Field{Type: graphql.String},
		},
	})

	tripType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Trip",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.Int},
			"vehicle_id":  &graphql.Field{Type: graphql.Int},
			"driver_id":   &graphql.Field{Type: graphql.Int},
			"admin_id":    &graphql.Field{Type: graphql.Int},
			"geofence_id": &graphql.Field{Type: graphql.Int},
			"source":      &graphql.Field{Type: graphql.String},
			"destination": &graphql.Field{Type: graphql.String},
			"status":      &graphql.Field{Type: graphql.String},
			"tonnage":     &graphql.Field{Type: graphql.Float},
			"upvotes":     &graphql.Field{Type: graphql.Int},
			"downvotes":   &graphql.Field{Type: graphql.Int},
			"next_halt":   &graphql.Field{Type: graphql.String},
			"started_at":  &graphql.Field{Type: graphql.DateTime},
			"created_at":  &graphql.Field{Type: graphql.DateTime},
			"intermediate_destinations": &graphql.Field{
				Type: graphql.NewList(destinationType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					trip := p.Source.(*domain.Trip)
					return deps.Trips.ListIntermediateDestinations(p.Context, trip.ID)
				},
			},
			"episodes": &graphql.Field{
				Type: graphql.NewList(episodeType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					trip := p.Source.(*domain.Trip)
					return deps.Trips.Episodes(p.Context, trip.ID)
				},
			},
		},
	})

	reportType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DelayReport",
		Fields: graphql.Fields{
			"id":              &graphql.Field{Type: graphql.Int},
			"driver_id":       &graphql.Field{Type: graphql.Int},
			"trip_id":         &graphql.Field{Type: graphql.Int},
			"reason":          &graphql.Field{Type: graphql.String},
			"custom_message":  &graphql.Field{Type: graphql.String},
			"auto":            &graphql.Field{Type: graphql.Boolean},
			"acknowledged_at": &graphql.Field{Type: graphql.DateTime},
			"created_at":      &graphql.Field{Type: graphql.DateTime},
		},
	})

	driverReportType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DriverReportSummary",
		Fields: graphql.Fields{
			"driver_id":     &graphql.Field{Type: graphql.Int},
			"driver_name":   &graphql.Field{Type: graphql.String},
			"total_reports": &graphql.Field{Type: graphql.Int},
		},
	})

	notificationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Notification",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.Int},
			"title":      &graphql.Field{Type: graphql.String},
			"message":    &graphql.Field{Type: graphql.String},
			"is_read":    &graphql.Field{Type: graphql.Boolean},
			"created_at": &graphql.Field{Type: graphql.DateTime},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"trip": &graphql.Field{
				Type:        tripType,
				Description: "Get a trip by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					caller, err := gqlCaller(p.Context)
					if err != nil {
						return nil, err
					}
					trip, err := deps.Trips.Get(p.Context, gqlID(p, "id"))
					if err != nil {
						return nil, err
					}
					if !caller.IsAdmin() && trip.Driver() != caller.ID {
						return nil, domain.ErrForbidden
					}
					return trip, nil
				},
			},
			"vehicleTrips": &graphql.Field{
				Type:        graphql.NewList(tripType),
				Description: "Trips of a vehicle, newest first",
				Args: graphql.FieldConfigArgument{
					"vehicle_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if err := gqlAdmin(p.Context); err != nil {
						return nil, err
					}
					trips, err := deps.Trips.ListByVehicle(p.Context, gqlID(p, "vehicle_id"))
					if err != nil {
						return nil, err
					}
					out := make([]*domain.Trip, len(trips))
					for i := range trips {
						out[i] = &trips[i]
					}
					return out, nil
				},
			},
			"geofences": &graphql.Field{
				Type:        graphql.NewList(geofenceType),
				Description: "Active geofences",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if _, err := gqlCaller(p.Context); err != nil {
						return nil, err
					}
					return deps.Geofences.ListActive(p.Context)
				},
			},
			"geofence": &graphql.Field{
				Type:        geofenceType,
				Description: "Get a geofence by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if _, err := gqlCaller(p.Context); err != nil {
						return nil, err
					}
					return deps.Geofences.Get(p.Context, gqlID(p, "id"))
				},
			},
			"delayReports": &graphql.Field{
				Type:        graphql.NewList(reportType),
				Description: "Delay reports filed by a driver",
				Args: graphql.FieldConfigArgument{
					"driver_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					caller, err := gqlCaller(p.Context)
					if err != nil {
						return nil, err
					}
					return deps.Reports.ListByDriver(p.Context, caller, gqlID(p, "driver_id"))
				},
			},
			"driverReports": &graphql.Field{
				Type:        graphql.NewList(driverReportType),
				Description: "Drivers ranked by delay report count",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if err := gqlAdmin(p.Context); err != nil {
						return nil, err
					}
					return deps.Reports.RankDrivers(p.Context)
				},
			},
			"notifications": &graphql.Field{
				Type:        graphql.NewList(notificationType),
				Description: "The caller's notification inbox, newest first",
				Args: graphql.FieldConfigArgument{
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					caller, err := gqlCaller(p.Context)
					if err != nil {
						return nil, err
					}
					offset, _ := p.Args["offset"].(int)
					limit, _ := p.Args["limit"].(int)
					items, _, err := deps.Inbox.List(p.Context, caller.ID, offset, limit)
					return items, err
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}

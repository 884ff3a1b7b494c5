// Package maps plans driving routes with the Google Maps Directions API.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RoutePlanner implements ports.RoutePlanner.
type RoutePlanner struct {
	client directionsClient
	region string
}

// NewRoutePlanner creates a planner with the given API key.
func NewRoutePlanner(apiKey string) (*RoutePlanner, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RoutePlanner{client: client, region: "in"}, nil
}

// PlanRoute returns the first suggested driving route through waypoints,
// in order.
func (p *RoutePlanner) PlanRoute(ctx context.Context, source, destination string, waypoints []string) (*domain.RoutePlan, error) {
	routes, _, err := p.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      source,
		Destination: destination,
		Waypoints:   waypoints,
		Mode:        maps.TravelModeDriving,
		Region:      p.region,
	})
	if err != nil {
		return nil, domain.ProviderError("google maps", err)
	}
	if len(routes) == 0 {
		return nil, domain.ProviderError("google maps", fmt.Errorf("no route found"))
	}

	r := routes[0]
	plan := &domain.RoutePlan{
		Summary:         r.Summary,
		EncodedPolyline: r.OverviewPolyline.Points,
		Waypoints:       waypoints,
	}
	for _, leg := range r.Legs {
		plan.DistanceMeters += leg.Distance.Meters
		plan.Duration += leg.Duration
	}
	return plan, nil
}

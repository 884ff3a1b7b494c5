package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys shared by the core services.
const (
	AttrTripID     = attribute.Key("geotrack.trip_id")
	AttrGeofenceID = attribute.Key("geotrack.geofence_id")
	AttrDriverID   = attribute.Key("geotrack.driver_id")
	AttrViolation  = attribute.Key("geotrack.violation_kind")
	AttrRecipients = attribute.Key("geotrack.recipients")
)

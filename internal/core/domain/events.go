package domain

import "time"

// ViolationEvent is emitted once, when a violation episode opens.
type ViolationEvent struct {
	EventKey   string        `json:"event_key"`
	TripID     int64         `json:"trip_id"`
	GeofenceID int64         `json:"geofence_id"`
	DriverID   int64         `json:"driver_id"`
	Kind       ViolationKind `json:"kind"`
	ReportID   int64         `json:"report_id"`
	DistanceKm float64       `json:"distance_km"`
	Elapsed    time.Duration `json:"elapsed"`
	Position   GeoPoint      `json:"position"`
	DetectedAt time.Time     `json:"detected_at"`
}

// LocationEvent is a driver position sample as published on the broker.
type LocationEvent struct {
	DriverID   int64     `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	CapturedAt time.Time `json:"captured_at"`
}

// TimerEvent reports a geofence timer transition.
type TimerEvent struct {
	TripID     int64      `json:"trip_id"`
	GeofenceID int64      `json:"geofence_id"`
	State      TimerState `json:"state"`
	At         time.Time  `json:"at"`
}

// DeliveryChannel is how a notification reached (or failed to reach) a
// recipient.
type DeliveryChannel string

const (
	DeliveryLive    DeliveryChannel = "live"
	DeliveryDurable DeliveryChannel = "durable"
	DeliverySkipped DeliveryChannel = "skipped"
	DeliveryFailed  DeliveryChannel = "failed"
)

// DeliveryOutcome is the per-recipient result of a dispatch.
type DeliveryOutcome struct {
	RecipientID int64           `json:"recipient_id"`
	Channel     DeliveryChannel `json:"channel"`
	Pushed      bool            `json:"pushed,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// CheckResult is the structured answer of a geofence check.
type CheckResult struct {
	TripID           int64             `json:"trip_id,omitempty"`
	ViolationFound   bool              `json:"violation_found"`
	AlreadyReported  bool              `json:"already_reported,omitempty"`
	GeofenceID       int64             `json:"geofence_id,omitempty"`
	Kind             ViolationKind     `json:"kind,omitempty"`
	ReportID         int64             `json:"report_id,omitempty"`
	ProviderInside   *bool             `json:"provider_inside,omitempty"`
	Deliveries       []DeliveryOutcome `json:"deliveries,omitempty"`
	ResolvedEpisodes []int64           `json:"resolved_geofences,omitempty"`
	Message          string            `json:"message"`
}

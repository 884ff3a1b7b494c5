package domain

import (
	"encoding/json"
	"time"
)

// User is a driver or an admin. Account management lives elsewhere; this
// service only reads users.
type User struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Role        Role      `json:"role"`
	IsActive    bool      `json:"is_active"`
	DeviceToken string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Vehicle carries load for trips.
type Vehicle struct {
	ID               int64   `json:"id"`
	VehicleNumber    string  `json:"vehicle_number"`
	TotalTonnage     float64 `json:"total_tonnage"`
	RemainingTonnage float64 `json:"remaining_tonnage"`
	DriverID         *int64  `json:"driver_id,omitempty"`
}

// Trip is a single delivery run of a vehicle from source to destination.
type Trip struct {
	ID           int64           `json:"id"`
	VehicleID    *int64          `json:"vehicle_id,omitempty"`
	DriverID     *int64          `json:"driver_id,omitempty"`
	AdminID      *int64          `json:"admin_id,omitempty"`
	GeofenceID   *int64          `json:"geofence_id,omitempty"`
	Source       string          `json:"source"`
	Destination  string          `json:"destination"`
	Status       TripStatus      `json:"status"`
	Tonnage      float64         `json:"tonnage"`
	Upvotes      int             `json:"upvotes"`
	Downvotes    int             `json:"downvotes"`
	NextHalt     string          `json:"next_halt,omitempty"`
	SafetyInfo   string          `json:"safety_info,omitempty"`
	RouteDetails json.RawMessage `json:"route_details,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Driver returns the driver id or zero when the trip is unassigned.
func (t *Trip) Driver() int64 {
	if t.DriverID == nil {
		return 0
	}
	return *t.DriverID
}

// Admin returns the admin id or zero.
func (t *Trip) Admin() int64 {
	if t.AdminID == nil {
		return 0
	}
	return *t.AdminID
}

// LinkedTo reports whether geofenceID is the trip's linked geofence.
func (t *Trip) LinkedTo(geofenceID int64) bool {
	return t.GeofenceID != nil && *t.GeofenceID == geofenceID
}

// IntermediateDestination is an ordered stop between source and destination.
type IntermediateDestination struct {
	ID          int64  `json:"id"`
	TripID      int64  `json:"trip_id"`
	Destination string `json:"destination"`
	Sequence    int    `json:"sequence"`
}

// RoutePlan is the route suggested by the mapping provider for a trip.
type RoutePlan struct {
	DistanceMeters  int           `json:"distance_meters"`
	Duration        time.Duration `json:"duration"`
	Summary         string        `json:"summary,omitempty"`
	EncodedPolyline string        `json:"polyline,omitempty"`
	Waypoints       []string      `json:"waypoints,omitempty"`
}

// Geofence is a circular zone with a crossing-time allowance.
type Geofence struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Center         GeoPoint   `json:"center"`
	RadiusKm       float64    `json:"radius_km"`
	AllowedMinutes int        `json:"allowed_minutes"`
	CreatedBy      *int64     `json:"created_by,omitempty"`
	Active         bool       `json:"active"`
	Regenerate     bool       `json:"regenerate"`
	SupersededBy   *int64     `json:"superseded_by,omitempty"`
	ProviderRef    string     `json:"provider_ref,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Creator returns the creating admin id or zero.
func (g *Geofence) Creator() int64 {
	if g.CreatedBy == nil {
		return 0
	}
	return *g.CreatedBy
}

// Allowance is the crossing window as a duration.
func (g *Geofence) Allowance() time.Duration {
	return time.Duration(g.AllowedMinutes) * time.Minute
}

// Validate checks the geofence invariants that hold before persistence.
func (g *Geofence) Validate() error {
	if err := g.Center.Validate(); err != nil {
		return err
	}
	if !(g.RadiusKm > 0) {
		return invalidf("radius must be greater than 0")
	}
	if g.AllowedMinutes <= 0 {
		return invalidf("time limit must be greater than 0")
	}
	return nil
}

// DriverLocation is the latest known position of a driver.
type DriverLocation struct {
	DriverID   int64     `json:"driver_id"`
	Location   GeoPoint  `json:"location"`
	CapturedAt time.Time `json:"captured_at"`
	Distance   *float64  `json:"distance_km,omitempty"` // computed field
}

// DelayReport explains why a trip is late, either auto-generated on a
// violation or filed by the driver.
type DelayReport struct {
	ID             int64      `json:"id"`
	DriverID       int64      `json:"driver_id"`
	TripID         int64      `json:"trip_id"`
	Reason         string     `json:"reason"`
	CustomMessage  string     `json:"custom_message,omitempty"`
	Auto           bool       `json:"auto"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DriverReportSummary counts the delay reports filed against one driver.
type DriverReportSummary struct {
	DriverID     int64  `json:"driver_id"`
	DriverName   string `json:"driver_name"`
	TotalReports int    `json:"total_reports"`
}

// Notification is a durable inbox entry written when live delivery is not
// possible.
type Notification struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	EventKey    string    `json:"event_key,omitempty"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// ViolationEpisode tracks one breach of a geofence by a trip, from first
// detection until it is resolved.
type ViolationEpisode struct {
	TripID           int64         `json:"trip_id"`
	GeofenceID       int64         `json:"geofence_id"`
	State            EpisodeState  `json:"state"`
	Kind             ViolationKind `json:"kind,omitempty"`
	ReportID         *int64        `json:"report_id,omitempty"`
	OpenedAt         *time.Time    `json:"opened_at,omitempty"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
	ResolutionReason string        `json:"resolution_reason,omitempty"`
	NotifiedAt       *time.Time    `json:"notified_at,omitempty"`
	Version          int           `json:"version"`
}

// GeofenceTimer is the persisted state of a per-trip crossing timer.
type GeofenceTimer struct {
	TripID      int64      `json:"trip_id"`
	GeofenceID  int64      `json:"geofence_id"`
	State       TimerState `json:"state"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FireAt      *time.Time `json:"fire_at,omitempty"`
	FiredAt     *time.Time `json:"fired_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

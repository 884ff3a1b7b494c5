package domain

import (
	"fmt"
	"strings"
)

// Role is the capability carried by an authenticated caller.
type Role string

const (
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// ParseRole accepts "driver" or "admin" in any case.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDriver:
		return RoleDriver, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", invalidf("unknown role %q", s)
}

// TripStatus is the lifecycle state of a trip. The string values are the
// canonical wire and storage representation.
type TripStatus string

const (
	TripPending   TripStatus = "Pending"
	TripAssigned  TripStatus = "Assigned"
	TripInRoute   TripStatus = "In-Route"
	TripCompleted TripStatus = "Completed"
	TripCanceled  TripStatus = "Canceled"
)

var tripStatuses = []TripStatus{TripPending, TripAssigned, TripInRoute, TripCompleted, TripCanceled}

// ParseTripStatus normalises s to a canonical status. Matching ignores case
// and treats '_' and ' ' like '-', so "in_route" and "IN-ROUTE" both parse.
func ParseTripStatus(s string) (TripStatus, error) {
	norm := normaliseStatus(s)
	for _, st := range tripStatuses {
		if normaliseStatus(string(st)) == norm {
			return st, nil
		}
	}
	return "", invalidf("unknown trip status %q", s)
}

func normaliseStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "-", " ", "-").Replace(s)
}

// Terminal reports whether no further transition is possible.
func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCanceled
}

var tripTransitions = map[TripStatus][]TripStatus{
	TripPending:  {TripAssigned, TripCanceled},
	TripAssigned: {TripInRoute, TripCanceled},
	TripInRoute:  {TripCompleted, TripCanceled},
}

// CanTransition reports whether s -> next is a legal lifecycle step.
func (s TripStatus) CanTransition(next TripStatus) bool {
	for _, allowed := range tripTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ViolationKind says which geofence rule was broken.
type ViolationKind string

const (
	ViolationRadiusBreach      ViolationKind = "radius_breach"
	ViolationTimeLimitExceeded ViolationKind = "time_limit_exceeded"
	ViolationTripDelay         ViolationKind = "trip_delay"
)

// ReasonKind selects the fixed reason text of an auto-generated delay report.
type ReasonKind int

const (
	ReasonRouteDeviation ReasonKind = iota + 1
	ReasonTripDelay
)

// Text returns the stored reason for the kind.
func (k ReasonKind) Text() string {
	switch k {
	case ReasonRouteDeviation:
		return "Route Deviation"
	case ReasonTripDelay:
		return "Trip delay"
	}
	return fmt.Sprintf("ReasonKind(%d)", int(k))
}

// EpisodeState is the state of a (trip, geofence) violation episode.
type EpisodeState string

const (
	EpisodeIdle     EpisodeState = "idle"
	EpisodeOpen     EpisodeState = "open"
	EpisodeResolved EpisodeState = "resolved"
)

// Resolution reasons recorded when an episode closes.
const (
	ResolvedReentry      = "reentry"
	ResolvedTripStatus   = "trip_status"
	ResolvedAcknowledged = "acknowledged"
	ResolvedGeofenceGone = "geofence_deleted"
)

// TimerState is the state of a per-trip geofence timer.
type TimerState string

const (
	TimerIdle      TimerState = "idle"
	TimerRunning   TimerState = "running"
	TimerFired     TimerState = "fired"
	TimerCancelled TimerState = "cancelled"
)

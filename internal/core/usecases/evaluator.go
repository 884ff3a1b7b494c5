package usecases

import (
	"fmt"
	"sort"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

// Match is the first geofence a position violates.
type Match struct {
	Geofence   domain.Geofence
	Kind       domain.ViolationKind
	DistanceKm float64
	Elapsed    time.Duration
}

// Evaluation is the outcome of checking one position against a set of
// geofences. Violation is nil when the position is compliant. Compliant
// lists the geofences checked before the match that the driver is inside
// of within their allowance.
type Evaluation struct {
	Violation *Match
	Compliant []int64
}

// ViolationEvaluator classifies a driver position against circular
// geofences. It has no side effects.
type ViolationEvaluator struct{}

// Evaluate checks pos against fences in ascending id order and stops at the
// first geofence the position lies outside of. anchors maps a geofence id to
// the start of a running crossing timer; geofences without one are measured
// from trip.StartedAt.
func (ViolationEvaluator) Evaluate(
	trip *domain.Trip,
	pos domain.GeoPoint,
	fences []domain.Geofence,
	anchors map[int64]time.Time,
	now time.Time,
) (Evaluation, error) {
	var ev Evaluation

	if trip == nil {
		return ev, domain.Invalidf("trip is required")
	}
	if trip.Status != domain.TripInRoute {
		return ev, fmt.Errorf("trip %d is %s: %w", trip.ID, trip.Status, domain.ErrTripNotActive)
	}
	if err := pos.Validate(); err != nil {
		return ev, err
	}

	ordered := make([]domain.Geofence, len(fences))
	copy(ordered, fences)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, g := range ordered {
		dist, err := pos.DistanceKm(g.Center)
		if err != nil {
			return Evaluation{}, fmt.Errorf("geofence %d: %w", g.ID, err)
		}
		elapsed := elapsedSince(anchorFor(trip, g.ID, anchors), now)

		if dist > g.RadiusKm {
			kind := domain.ViolationRadiusBreach
			if elapsed > g.Allowance() {
				kind = domain.ViolationTimeLimitExceeded
			}
			ev.Violation = &Match{Geofence: g, Kind: kind, DistanceKm: dist, Elapsed: elapsed}
			return ev, nil
		}
		if elapsed <= g.Allowance() {
			ev.Compliant = append(ev.Compliant, g.ID)
		}
	}
	return ev, nil
}

func anchorFor(trip *domain.Trip, geofenceID int64, anchors map[int64]time.Time) *time.Time {
	if t, ok := anchors[geofenceID]; ok && !t.IsZero() {
		return &t
	}
	return trip.StartedAt
}

func elapsedSince(anchor *time.Time, now time.Time) time.Duration {
	if anchor == nil || now.Before(*anchor) {
		return 0
	}
	return now.Sub(*anchor)
}

// timerAnchors returns the start time of every running or fired timer.
func timerAnchors(timers []domain.GeofenceTimer) map[int64]time.Time {
	anchors := make(map[int64]time.Time, len(timers))
	for _, t := range timers {
		if t.StartedAt == nil {
			continue
		}
		if t.State == domain.TimerRunning || t.State == domain.TimerFired {
			anchors[t.GeofenceID] = *t.StartedAt
		}
	}
	return anchors
}

package usecases

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
)

// AutoReportMessage is attached to every auto-generated delay report.
const AutoReportMessage = "This is an auto-generated message. Please fill out the report with more details."

// TripLevelGeofence is the episode key used for delays not tied to a geofence.
const TripLevelGeofence int64 = 0

// DelayReportFactory opens violation episodes together with their
// auto-generated delay report.
type DelayReportFactory struct {
	episodes ports.EpisodeRepository
	now      func() time.Time
}

// NewDelayReportFactory creates a new DelayReportFactory.
func NewDelayReportFactory(episodes ports.EpisodeRepository) *DelayReportFactory {
	return &DelayReportFactory{episodes: episodes, now: time.Now}
}

// CreateAutoReport opens the (trip, geofence) episode and persists its report
// atomically. opened is false when the episode was already open, in which
// case no report is written.
func (f *DelayReportFactory) CreateAutoReport(
	ctx context.Context,
	trip *domain.Trip,
	geofenceID int64,
	kind domain.ViolationKind,
	reason domain.ReasonKind,
) (*domain.DelayReport, bool, error) {
	if trip.Driver() == 0 {
		return nil, false, domain.Invalidf("trip %d has no driver", trip.ID)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		report, opened, err := f.tryOpen(ctx, trip, geofenceID, kind, reason)
		if err == nil {
			if opened {
				metrics.DelayReportsCreated.WithLabelValues(reason.Text(), strconv.FormatBool(true)).Inc()
			}
			return report, opened, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, false, err
		}
		lastErr = err
		logging.FromContext(ctx).Debug("episode lock conflict, retrying",
			"trip_id", trip.ID, "geofence_id", geofenceID, "attempt", attempt+1)
	}
	return nil, false, lastErr
}

func (f *DelayReportFactory) tryOpen(
	ctx context.Context,
	trip *domain.Trip,
	geofenceID int64,
	kind domain.ViolationKind,
	reason domain.ReasonKind,
) (*domain.DelayReport, bool, error) {
	ep, err := f.episodes.Get(ctx, trip.ID, geofenceID)
	if err != nil {
		return nil, false, fmt.Errorf("load episode: %w", err)
	}
	if ep.State == domain.EpisodeOpen {
		return nil, false, nil
	}

	now := f.now()
	report := &domain.DelayReport{
		DriverID:      trip.Driver(),
		TripID:        trip.ID,
		Reason:        reason.Text(),
		CustomMessage: AutoReportMessage,
		Auto:          true,
		CreatedAt:     now,
	}
	next := &domain.ViolationEpisode{
		TripID:     trip.ID,
		GeofenceID: geofenceID,
		State:      domain.EpisodeOpen,
		Kind:       kind,
		OpenedAt:   &now,
		Version:    ep.Version,
	}

	opened, err := f.episodes.OpenWithReport(ctx, next, report)
	if err != nil {
		return nil, false, err
	}
	if !opened {
		return nil, false, nil
	}
	return report, true, nil
}

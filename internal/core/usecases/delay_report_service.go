package usecases

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
)

// DelayReportService handles driver-filed delay reports.
type DelayReportService struct {
	reports ports.DelayReportRepository
	trips   ports.TripRepository
	router  *NotificationRouter
	now     func() time.Time
}

// NewDelayReportService creates a new DelayReportService.
func NewDelayReportService(reports ports.DelayReportRepository, trips ports.TripRepository, router *NotificationRouter) *DelayReportService {
	return &DelayReportService{reports: reports, trips: trips, router: router, now: time.Now}
}

// Submit files a report against the caller's In-Route trip and notifies the
// driver and the trip admin.
func (s *DelayReportService) Submit(ctx context.Context, caller Caller, reason, message string) (*domain.DelayReport, []domain.DeliveryOutcome, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, nil, domain.Invalidf("reason is required")
	}
	trip, err := s.trips.ActiveByDriver(ctx, caller.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("%s: %w", MsgNoActiveTrip, domain.ErrTripNotActive)
	}
	if err != nil {
		return nil, nil, err
	}

	report := &domain.DelayReport{
		DriverID:      caller.ID,
		TripID:        trip.ID,
		Reason:        reason,
		CustomMessage: strings.TrimSpace(message),
		CreatedAt:     s.now(),
	}
	if err := s.reports.Create(ctx, report); err != nil {
		return nil, nil, fmt.Errorf("create delay report: %w", err)
	}
	metrics.DelayReportsCreated.WithLabelValues(reason, strconv.FormatBool(false)).Inc()

	key := fmt.Sprintf("delay-report:%d", report.ID)
	deliveries := s.router.Notify(ctx, key, s.router.DelayReportMessages(ctx, trip, report))
	return report, deliveries, nil
}

// ListByDriver returns a driver's reports. Drivers may only list their own.
func (s *DelayReportService) ListByDriver(ctx context.Context, caller Caller, driverID int64) ([]domain.DelayReport, error) {
	if !caller.IsAdmin() && caller.ID != driverID {
		return nil, domain.ErrForbidden
	}
	return s.reports.ListByDriver(ctx, driverID)
}

// RankDrivers lists drivers by how many delay reports they have, most first.
func (s *DelayReportService) RankDrivers(ctx context.Context) ([]domain.DriverReportSummary, error) {
	return s.reports.RankDrivers(ctx)
}

// Acknowledge marks a report as reviewed and resolves the episode it opened.
func (s *DelayReportService) Acknowledge(ctx context.Context, id int64) (*domain.DelayReport, error) {
	r, err := s.reports.Acknowledge(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	if r.Auto {
		metrics.EpisodesResolved.WithLabelValues(domain.ResolvedAcknowledged).Inc()
	}
	return r, nil
}

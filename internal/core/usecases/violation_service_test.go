package usecases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/usecases"
)

func TestCheckTripGeofence_ViolationOpensOneEpisode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.violations.CheckTripGeofence(ctx, driver, tripID, outside)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ViolationFound || res.AlreadyReported {
		t.Fatalf("expected a new violation, got %+v", res)
	}
	if res.Kind != domain.ViolationTimeLimitExceeded {
		t.Errorf("expected time_limit_exceeded, got %s", res.Kind)
	}
	if f.episodes.reportCount() != 1 {
		t.Fatalf("expected 1 report, got %d", f.episodes.reportCount())
	}
	if got := f.episodes.reports[0]; got.Reason != "Route Deviation" || !got.Auto || got.CustomMessage != usecases.AutoReportMessage {
		t.Errorf("unexpected report: %+v", got)
	}

	counts := f.notifications.recipients()
	for _, id := range []int64{driverID, creatorID, adminID} {
		if counts[id] != 1 {
			t.Errorf("recipient %d notified %d times, want 1", id, counts[id])
		}
	}
	if len(res.Deliveries) != 3 {
		t.Errorf("expected 3 deliveries, got %d", len(res.Deliveries))
	}
	if len(f.publisher.violations) != 1 {
		t.Errorf("expected 1 published violation, got %d", len(f.publisher.violations))
	}
}

func TestCheckTripGeofence_SecondCheckInOpenEpisodeIsSilent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.violations.CheckTripGeofence(ctx, driver, tripID, outside); err != nil {
		t.Fatalf("first check: %v", err)
	}
	res, err := f.violations.CheckTripGeofence(ctx, driver, tripID, outside)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !res.ViolationFound || !res.AlreadyReported {
		t.Errorf("expected already reported, got %+v", res)
	}
	if len(res.Deliveries) != 0 {
		t.Errorf("expected no deliveries, got %d", len(res.Deliveries))
	}
	if f.episodes.reportCount() != 1 {
		t.Errorf("expected 1 report total, got %d", f.episodes.reportCount())
	}
	if len(f.notifications.items) != 3 {
		t.Errorf("expected 3 notifications total, got %d", len(f.notifications.items))
	}
}

func TestCheckTripGeofence_CreatorIsAdminNotifiedOnce(t *testing.T) {
	f := newFixture()
	f.fence.CreatedBy = ptr(adminID)
	f.geofenceRepo = staticGeofences(f.fence)
	f.wire()

	res, err := f.violations.CheckTripGeofence(context.Background(), driver, tripID, outside)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(res.Deliveries))
	}
	if f.notifications.recipients()[adminID] != 1 {
		t.Errorf("admin notified %d times", f.notifications.recipients()[adminID])
	}
}

func TestCheckTripGeofence_ReentryResolvesEpisode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Start the timer just now so the driver is back within the window.
	if _, err := f.violations.CheckTripGeofence(ctx, driver, tripID, outside); err != nil {
		t.Fatal(err)
	}
	if _, err := f.timerSvc.Start(ctx, driver, tripID, fenceID); err != nil {
		t.Fatalf("start timer: %v", err)
	}

	res, err := f.violations.CheckTripGeofence(ctx, driver, tripID, delhi)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ViolationFound {
		t.Fatalf("expected no violation, got %+v", res)
	}
	if len(res.ResolvedEpisodes) != 1 || res.ResolvedEpisodes[0] != fenceID {
		t.Fatalf("expected episode for geofence %d resolved, got %v", fenceID, res.ResolvedEpisodes)
	}

	// A new breach after re-entry opens a new episode.
	res, err = f.violations.CheckTripGeofence(ctx, driver, tripID, outside)
	if err != nil {
		t.Fatal(err)
	}
	if res.AlreadyReported || res.ReportID == 0 {
		t.Errorf("expected a new episode, got %+v", res)
	}
	if f.episodes.reportCount() != 2 {
		t.Errorf("expected 2 reports, got %d", f.episodes.reportCount())
	}
}

func TestCheckTripGeofence_NoViolationInside(t *testing.T) {
	f := newFixture()
	res, err := f.violations.CheckTripGeofence(context.Background(), driver, tripID, delhi)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ViolationFound || res.Message != usecases.MsgNoViolation {
		t.Errorf("unexpected result %+v", res)
	}
	if f.episodes.reportCount() != 0 {
		t.Error("no report expected")
	}
}

func TestCheckTripGeofence_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.violations.CheckTripGeofence(ctx, driver, 999, outside); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.violations.CheckTripGeofence(ctx, driver, tripID, domain.GeoPoint{Lat: 0, Lon: 200}); !errors.Is(err, domain.ErrInvalidCoordinate) {
		t.Errorf("expected ErrInvalidCoordinate, got %v", err)
	}

	f.setStatus(domain.TripAssigned)
	if _, err := f.violations.CheckTripGeofence(ctx, driver, tripID, outside); !errors.Is(err, domain.ErrTripNotActive) {
		t.Errorf("expected ErrTripNotActive, got %v", err)
	}
}

func TestCheckTripGeofence_DurableWriteFailureKeepsReport(t *testing.T) {
	f := newFixture()
	f.notifications.createErr = errors.New("db down")

	res, err := f.violations.CheckTripGeofence(context.Background(), driver, tripID, outside)
	if err != nil {
		t.Fatalf("violation check must succeed despite notification failures: %v", err)
	}
	if !res.ViolationFound || res.ReportID == 0 {
		t.Fatalf("expected persisted violation, got %+v", res)
	}
	for _, d := range res.Deliveries {
		if d.Channel != domain.DeliveryFailed {
			t.Errorf("recipient %d: expected failed, got %s", d.RecipientID, d.Channel)
		}
	}
}

func TestMarkTripDelayed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.violations.MarkTripDelayed(ctx, f.currentTrip())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ReportID == 0 || res.Kind != domain.ViolationTripDelay {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.episodes.reports[0].Reason != "Trip delay" {
		t.Errorf("expected reason 'Trip delay', got %q", f.episodes.reports[0].Reason)
	}

	res, err = f.violations.MarkTripDelayed(ctx, f.currentTrip())
	if err != nil {
		t.Fatal(err)
	}
	if !res.AlreadyReported {
		t.Error("second delay mark must not create a report")
	}
}

func TestCheckTripGeofence_OtherDriverForbidden(t *testing.T) {
	f := newFixture()
	stranger := usecases.Caller{ID: driverID + 1, Role: domain.RoleDriver}

	_, err := f.violations.CheckTripGeofence(context.Background(), stranger, tripID, outside)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if f.episodes.reportCount() != 0 {
		t.Error("no report may be created for a foreign trip")
	}
	if len(f.notifications.recipients()) != 0 {
		t.Error("nobody may be notified")
	}
}

func TestCheckTripGeofence_AdminAllowed(t *testing.T) {
	f := newFixture()

	res, err := f.violations.CheckTripGeofence(context.Background(), admin, tripID, outside)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ViolationFound {
		t.Errorf("expected violation, got %+v", res)
	}
}

func withProvider(f *fixture, p *mockProvider) {
	f.geofences = usecases.NewGeofenceService(staticGeofences(f.fence), p, f.scheduler, f.cache)
	f.violations = usecases.NewViolationService(f.trips, f.geofences, f.episodes, f.timers, f.reports, f.router, f.publisher)
}

func TestCheckTripGeofence_ProviderCrossCheck(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		provider *mockProvider
		want     *bool
		asked    int
	}{
		{"provider agrees", "gf_1", &mockProvider{inside: false}, ptr(false), 1},
		{"provider disagrees", "gf_1", &mockProvider{inside: true}, ptr(true), 1},
		{"provider fails", "gf_1", &mockProvider{checkErr: domain.ProviderError("geofence provider", errors.New("timeout"))}, nil, 1},
		{"not registered", "", &mockProvider{inside: true}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.fence.ProviderRef = tt.ref
			withProvider(f, tt.provider)

			res, err := f.violations.CheckTripGeofence(context.Background(), driver, tripID, outside)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.ViolationFound || res.ReportID == 0 {
				t.Errorf("local verdict must stand, got %+v", res)
			}
			if len(tt.provider.checked) != tt.asked {
				t.Errorf("provider asked %d times, want %d", len(tt.provider.checked), tt.asked)
			}
			switch {
			case tt.want == nil && res.ProviderInside != nil:
				t.Errorf("expected no provider answer, got %v", *res.ProviderInside)
			case tt.want != nil && (res.ProviderInside == nil || *res.ProviderInside != *tt.want):
				t.Errorf("provider answer = %v, want %v", res.ProviderInside, *tt.want)
			}
		})
	}
}

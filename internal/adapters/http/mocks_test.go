package http_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

func ptr[T any](v T) *T { return &v }

type mockUserRepo struct {
	users map[int64]*domain.User
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.NotFoundf("user %d", id)
}

type mockVehicleRepo struct {
	getByIDFn func(ctx context.Context, id int64) (*domain.Vehicle, error)
}

func (m *mockVehicleRepo) GetByID(ctx context.Context, id int64) (*domain.Vehicle, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return &domain.Vehicle{ID: id, VehicleNumber: "DL01AB1234", TotalTonnage: 20, RemainingTonnage: 20}, nil
}

type mockTripRepo struct {
	trips map[int64]*domain.Trip
	// remaining is the capacity left on every vehicle.
	remaining float64

	updateStatusFn func(ctx context.Context, tripID int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error)
}

func (m *mockTripRepo) Create(ctx context.Context, trip *domain.Trip, stops []string) error {
	trip.ID = int64(len(m.trips) + 100)
	m.trips[trip.ID] = trip
	return nil
}

func (m *mockTripRepo) GetByID(ctx context.Context, id int64) (*domain.Trip, error) {
	if t, ok := m.trips[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, domain.NotFoundf("trip %d", id)
}

func (m *mockTripRepo) ListByVehicle(ctx context.Context, vehicleID int64) ([]domain.Trip, error) {
	var out []domain.Trip
	for _, t := range m.trips {
		if t.VehicleID != nil && *t.VehicleID == vehicleID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockTripRepo) ActiveByDriver(ctx context.Context, driverID int64) (*domain.Trip, error) {
	for _, t := range m.trips {
		if t.Driver() == driverID && t.Status == domain.TripInRoute {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockTripRepo) Assign(ctx context.Context, tripID, driverID int64, route json.RawMessage) error {
	t, ok := m.trips[tripID]
	if !ok {
		return domain.NotFoundf("trip %d", tripID)
	}
	t.DriverID = &driverID
	t.Status = domain.TripAssigned
	t.RouteDetails = route
	return nil
}

func (m *mockTripRepo) UpdateStatus(ctx context.Context, tripID int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, tripID, from, to, at)
	}
	t, ok := m.trips[tripID]
	if !ok || t.Status != from {
		return nil, domain.ErrConcurrencyConflict
	}
	t.Status = to
	if to == domain.TripInRoute {
		t.StartedAt = &at
	}
	return nil, nil
}

func (m *mockTripRepo) LinkGeofence(ctx context.Context, tripID, geofenceID int64) error {
	t, ok := m.trips[tripID]
	if !ok {
		return domain.NotFoundf("trip %d", tripID)
	}
	t.GeofenceID = &geofenceID
	return nil
}

func (m *mockTripRepo) Vote(ctx context.Context, tripID int64, up bool) error {
	t, ok := m.trips[tripID]
	if !ok {
		return domain.NotFoundf("trip %d", tripID)
	}
	if up {
		t.Upvotes++
	} else {
		t.Downvotes++
	}
	return nil
}

func (m *mockTripRepo) UpdateTonnage(ctx context.Context, tripID int64, tonnage float64) (float64, error) {
	t, ok := m.trips[tripID]
	if !ok {
		return 0, domain.NotFoundf("trip %d", tripID)
	}
	delta := tonnage - t.Tonnage
	if m.remaining < delta {
		return 0, domain.Invalidf("tonnage %.2f exceeds remaining capacity", tonnage)
	}
	m.remaining -= delta
	t.Tonnage = tonnage
	return m.remaining, nil
}

func (m *mockTripRepo) AddIntermediateDestination(ctx context.Context, d *domain.IntermediateDestination) error {
	d.ID = 1
	return nil
}

func (m *mockTripRepo) ListIntermediateDestinations(ctx context.Context, tripID int64) ([]domain.IntermediateDestination, error) {
	return nil, nil
}

type mockGeofenceRepo struct {
	fences map[int64]*domain.Geofence
}

func (m *mockGeofenceRepo) Create(ctx context.Context, g *domain.Geofence) error {
	g.ID = int64(len(m.fences) + 1)
	m.fences[g.ID] = g
	return nil
}

func (m *mockGeofenceRepo) GetByID(ctx context.Context, id int64) (*domain.Geofence, error) {
	if g, ok := m.fences[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, domain.NotFoundf("geofence %d", id)
}

func (m *mockGeofenceRepo) ListActive(ctx context.Context) ([]domain.Geofence, error) {
	var out []domain.Geofence
	for _, g := range m.fences {
		if g.Active {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *mockGeofenceRepo) SetProviderRef(ctx context.Context, id int64, ref string) error {
	return nil
}

func (m *mockGeofenceRepo) Deactivate(ctx context.Context, id int64, at time.Time) ([]domain.GeofenceTimer, error) {
	g, ok := m.fences[id]
	if !ok || !g.Active {
		return nil, domain.NotFoundf("geofence %d", id)
	}
	g.Active = false
	g.DeletedAt = &at
	return nil, nil
}

func (m *mockGeofenceRepo) Supersede(ctx context.Context, oldID int64, next *domain.Geofence) ([]domain.GeofenceTimer, error) {
	next.ID = oldID + 1000
	return nil, nil
}

type mockLocationRepo struct {
	mu     sync.Mutex
	latest map[int64]domain.DriverLocation
}

func (m *mockLocationRepo) Upsert(ctx context.Context, loc *domain.DriverLocation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.latest[loc.DriverID]; ok && cur.CapturedAt.After(loc.CapturedAt) {
		return false, nil
	}
	m.latest[loc.DriverID] = *loc
	return true, nil
}

func (m *mockLocationRepo) GetByDriver(ctx context.Context, driverID int64) (*domain.DriverLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.latest[driverID]; ok {
		return &l, nil
	}
	return nil, domain.NotFoundf("location for driver %d", driverID)
}

func (m *mockLocationRepo) FindNearby(ctx context.Context, center domain.GeoPoint, radiusKm float64, limit int) ([]domain.DriverLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DriverLocation
	for _, l := range m.latest {
		out = append(out, l)
	}
	return out, nil
}

type mockReportRepo struct {
	reports []domain.DelayReport
	drivers []domain.User
}

func (m *mockReportRepo) Create(ctx context.Context, r *domain.DelayReport) error {
	r.ID = int64(len(m.reports) + 1)
	m.reports = append(m.reports, *r)
	return nil
}

func (m *mockReportRepo) GetByID(ctx context.Context, id int64) (*domain.DelayReport, error) {
	for _, r := range m.reports {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, domain.NotFoundf("delay report %d", id)
}

func (m *mockReportRepo) ListByDriver(ctx context.Context, driverID int64) ([]domain.DelayReport, error) {
	var out []domain.DelayReport
	for _, r := range m.reports {
		if r.DriverID == driverID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockReportRepo) RankDrivers(ctx context.Context) ([]domain.DriverReportSummary, error) {
	out := make([]domain.DriverReportSummary, 0, len(m.drivers))
	for _, d := range m.drivers {
		s := domain.DriverReportSummary{DriverID: d.ID, DriverName: d.Name}
		for _, r := range m.reports {
			if r.DriverID == d.ID {
				s.TotalReports++
			}
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalReports != out[j].TotalReports {
			return out[i].TotalReports > out[j].TotalReports
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out, nil
}

func (m *mockReportRepo) Acknowledge(ctx context.Context, id int64, at time.Time) (*domain.DelayReport, error) {
	for i := range m.reports {
		if m.reports[i].ID == id {
			m.reports[i].AcknowledgedAt = &at
			r := m.reports[i]
			return &r, nil
		}
	}
	return nil, domain.NotFoundf("delay report %d", id)
}

type mockEpisodeRepo struct {
	mu       sync.Mutex
	episodes map[[2]int64]domain.ViolationEpisode
	opened   int
}

func (m *mockEpisodeRepo) Get(ctx context.Context, tripID, geofenceID int64) (*domain.ViolationEpisode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep, ok := m.episodes[[2]int64{tripID, geofenceID}]; ok {
		return &ep, nil
	}
	return &domain.ViolationEpisode{TripID: tripID, GeofenceID: geofenceID, State: domain.EpisodeIdle}, nil
}

func (m *mockEpisodeRepo) ListByTrip(ctx context.Context, tripID int64) ([]domain.ViolationEpisode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ViolationEpisode
	for k, ep := range m.episodes {
		if k[0] == tripID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (m *mockEpisodeRepo) OpenWithReport(ctx context.Context, ep *domain.ViolationEpisode, report *domain.DelayReport) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [2]int64{ep.TripID, ep.GeofenceID}
	if cur, ok := m.episodes[k]; ok && cur.State == domain.EpisodeOpen {
		return false, nil
	}
	m.opened++
	report.ID = int64(m.opened)
	stored := *ep
	stored.State = domain.EpisodeOpen
	stored.ReportID = &report.ID
	m.episodes[k] = stored
	return true, nil
}

func (m *mockEpisodeRepo) Resolve(ctx context.Context, tripID, geofenceID int64, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [2]int64{tripID, geofenceID}
	ep, ok := m.episodes[k]
	if !ok || ep.State != domain.EpisodeOpen {
		return false, nil
	}
	ep.State = domain.EpisodeResolved
	ep.ResolutionReason = reason
	m.episodes[k] = ep
	return true, nil
}

func (m *mockEpisodeRepo) MarkNotified(ctx context.Context, tripID, geofenceID int64, at time.Time) error {
	return nil
}

type mockNotificationRepo struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = int64(len(m.items) + 1)
	m.items = append(m.items, *n)
	return nil
}

func (m *mockNotificationRepo) ListByRecipient(ctx context.Context, recipientID int64, offset, limit int) ([]domain.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []domain.Notification
	for _, n := range m.items {
		if n.RecipientID == recipientID {
			mine = append(mine, n)
		}
	}
	total := len(mine)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return mine[offset:end], total, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id, recipientID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].RecipientID == recipientID {
			m.items[i].IsRead = true
			return nil
		}
	}
	return domain.NotFoundf("notification %d", id)
}

func (m *mockNotificationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type mockTimerRepo struct {
	mu     sync.Mutex
	timers map[[2]int64]domain.GeofenceTimer
}

func (m *mockTimerRepo) Get(ctx context.Context, tripID, geofenceID int64) (*domain.GeofenceTimer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[[2]int64{tripID, geofenceID}]; ok {
		return &t, nil
	}
	return &domain.GeofenceTimer{TripID: tripID, GeofenceID: geofenceID, State: domain.TimerIdle}, nil
}

func (m *mockTimerRepo) Start(ctx context.Context, t *domain.GeofenceTimer) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [2]int64{t.TripID, t.GeofenceID}
	if cur, ok := m.timers[k]; ok && cur.State == domain.TimerRunning {
		*t = cur
		return false, nil
	}
	m.timers[k] = *t
	return true, nil
}

func (m *mockTimerRepo) Transition(ctx context.Context, tripID, geofenceID int64, from, to domain.TimerState, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [2]int64{tripID, geofenceID}
	cur, ok := m.timers[k]
	if !ok || cur.State != from {
		return false, nil
	}
	cur.State = to
	m.timers[k] = cur
	return true, nil
}

func (m *mockTimerRepo) ListByTrip(ctx context.Context, tripID int64) ([]domain.GeofenceTimer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GeofenceTimer
	for k, t := range m.timers {
		if k[0] == tripID {
			out = append(out, t)
		}
	}
	return out, nil
}

type scheduledTimer struct {
	tripID, geofenceID int64
	delay              time.Duration
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []scheduledTimer
	cancelled []scheduledTimer
}

func (f *fakeScheduler) ScheduleTimer(ctx context.Context, tripID, geofenceID int64, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, scheduledTimer{tripID, geofenceID, delay})
	return nil
}

func (f *fakeScheduler) CancelTimer(ctx context.Context, tripID, geofenceID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, scheduledTimer{tripID: tripID, geofenceID: geofenceID})
	return nil
}

func (f *fakeScheduler) ScheduleRegeneration(ctx context.Context, geofenceID int64, every time.Duration) error {
	return nil
}

func (f *fakeScheduler) CancelRegeneration(ctx context.Context, geofenceID int64) error {
	return nil
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

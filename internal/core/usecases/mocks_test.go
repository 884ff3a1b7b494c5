package usecases_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
)

func ptr[T any](v T) *T { return &v }

// --- Mock UserRepository ---

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

// --- Mock VehicleRepository ---

type mockVehicleRepo struct {
	getByIDFn func(ctx context.Context, id int64) (*domain.Vehicle, error)
}

func (m *mockVehicleRepo) GetByID(ctx context.Context, id int64) (*domain.Vehicle, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return &domain.Vehicle{ID: id, RemainingTonnage: 100}, nil
}

// --- Mock TripRepository ---

type mockTripRepo struct {
	createFn         func(ctx context.Context, trip *domain.Trip, stops []string) error
	getByIDFn        func(ctx context.Context, id int64) (*domain.Trip, error)
	listByVehicleFn  func(ctx context.Context, vehicleID int64) ([]domain.Trip, error)
	activeByDriverFn func(ctx context.Context, driverID int64) (*domain.Trip, error)
	assignFn         func(ctx context.Context, tripID, driverID int64, route json.RawMessage) error
	updateStatusFn   func(ctx context.Context, tripID int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error)
	linkGeofenceFn   func(ctx context.Context, tripID, geofenceID int64) error
	addStopFn        func(ctx context.Context, d *domain.IntermediateDestination) error
	listStopsFn      func(ctx context.Context, tripID int64) ([]domain.IntermediateDestination, error)
	voteFn           func(ctx context.Context, tripID int64, up bool) error
	updateTonnageFn  func(ctx context.Context, tripID int64, tonnage float64) (float64, error)
}

func (m *mockTripRepo) Create(ctx context.Context, trip *domain.Trip, stops []string) error {
	if m.createFn != nil {
		return m.createFn(ctx, trip, stops)
	}
	trip.ID = 1
	return nil
}

func (m *mockTripRepo) GetByID(ctx context.Context, id int64) (*domain.Trip, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.NotFoundf("trip %d", id)
}

func (m *mockTripRepo) ListByVehicle(ctx context.Context, vehicleID int64) ([]domain.Trip, error) {
	if m.listByVehicleFn != nil {
		return m.listByVehicleFn(ctx, vehicleID)
	}
	return nil, nil
}

func (m *mockTripRepo) ActiveByDriver(ctx context.Context, driverID int64) (*domain.Trip, error) {
	if m.activeByDriverFn != nil {
		return m.activeByDriverFn(ctx, driverID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockTripRepo) Assign(ctx context.Context, tripID, driverID int64, route json.RawMessage) error {
	if m.assignFn != nil {
		return m.assignFn(ctx, tripID, driverID, route)
	}
	return nil
}

func (m *mockTripRepo) UpdateStatus(ctx context.Context, tripID int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, tripID, from, to, at)
	}
	return nil, nil
}

func (m *mockTripRepo) LinkGeofence(ctx context.Context, tripID, geofenceID int64) error {
	if m.linkGeofenceFn != nil {
		return m.linkGeofenceFn(ctx, tripID, geofenceID)
	}
	return nil
}

func (m *mockTripRepo) AddIntermediateDestination(ctx context.Context, d *domain.IntermediateDestination) error {
	if m.addStopFn != nil {
		return m.addStopFn(ctx, d)
	}
	return nil
}

func (m *mockTripRepo) ListIntermediateDestinations(ctx context.Context, tripID int64) ([]domain.IntermediateDestination, error) {
	if m.listStopsFn != nil {
		return m.listStopsFn(ctx, tripID)
	}
	return nil, nil
}

func (m *mockTripRepo) Vote(ctx context.Context, tripID int64, up bool) error {
	if m.voteFn != nil {
		return m.voteFn(ctx, tripID, up)
	}
	return nil
}

func (m *mockTripRepo) UpdateTonnage(ctx context.Context, tripID int64, tonnage float64) (float64, error) {
	if m.updateTonnageFn != nil {
		return m.updateTonnageFn(ctx, tripID, tonnage)
	}
	return 0, nil
}

// staticTrips serves a fixed trip for GetByID.
func staticTrips(trip *domain.Trip) *mockTripRepo {
	return &mockTripRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Trip, error) {
			if id != trip.ID {
				return nil, domain.NotFoundf("trip %d", id)
			}
			cp := *trip
			return &cp, nil
		},
	}
}

// --- Mock GeofenceRepository ---

type mockGeofenceRepo struct {
	createFn         func(ctx context.Context, g *domain.Geofence) error
	getByIDFn        func(ctx context.Context, id int64) (*domain.Geofence, error)
	listActiveFn     func(ctx context.Context) ([]domain.Geofence, error)
	setProviderRefFn func(ctx context.Context, id int64, ref string) error
	deactivateFn     func(ctx context.Context, id int64, at time.Time) ([]domain.GeofenceTimer, error)
	supersedeFn      func(ctx context.Context, oldID int64, next *domain.Geofence) ([]domain.GeofenceTimer, error)
}

func (m *mockGeofenceRepo) Create(ctx context.Context, g *domain.Geofence) error {
	if m.createFn != nil {
		return m.createFn(ctx, g)
	}
	g.ID = 1
	return nil
}

func (m *mockGeofenceRepo) GetByID(ctx context.Context, id int64) (*domain.Geofence, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.NotFoundf("geofence %d", id)
}

func (m *mockGeofenceRepo) ListActive(ctx context.Context) ([]domain.Geofence, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockGeofenceRepo) SetProviderRef(ctx context.Context, id int64, ref string) error {
	if m.setProviderRefFn != nil {
		return m.setProviderRefFn(ctx, id, ref)
	}
	return nil
}

func (m *mockGeofenceRepo) Deactivate(ctx context.Context, id int64, at time.Time) ([]domain.GeofenceTimer, error) {
	if m.deactivateFn != nil {
		return m.deactivateFn(ctx, id, at)
	}
	return nil, nil
}

func (m *mockGeofenceRepo) Supersede(ctx context.Context, oldID int64, next *domain.Geofence) ([]domain.GeofenceTimer, error) {
	if m.supersedeFn != nil {
		return m.supersedeFn(ctx, oldID, next)
	}
	next.ID = oldID + 1
	return nil, nil
}

// staticGeofences serves a fixed geofence set.
func staticGeofences(fences ...domain.Geofence) *mockGeofenceRepo {
	return &mockGeofenceRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Geofence, error) {
			for _, g := range fences {
				if g.ID == id {
					cp := g
					return &cp, nil
				}
			}
			return nil, domain.NotFoundf("geofence %d", id)
		},
		listActiveFn: func(ctx context.Context) ([]domain.Geofence, error) {
			return fences, nil
		},
	}
}

// --- Mock DriverLocationRepository ---

type mockLocationRepo struct {
	upsertFn      func(ctx context.Context, loc *domain.DriverLocation) (bool, error)
	getByDriverFn func(ctx context.Context, driverID int64) (*domain.DriverLocation, error)
	findNearbyFn  func(ctx context.Context, center domain.GeoPoint, radiusKm float64, limit int) ([]domain.DriverLocation, error)
}

func (m *mockLocationRepo) Upsert(ctx context.Context, loc *domain.DriverLocation) (bool, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, loc)
	}
	return true, nil
}

func (m *mockLocationRepo) GetByDriver(ctx context.Context, driverID int64) (*domain.DriverLocation, error) {
	if m.getByDriverFn != nil {
		return m.getByDriverFn(ctx, driverID)
	}
	return nil, domain.NotFoundf("location for driver %d", driverID)
}

func (m *mockLocationRepo) FindNearby(ctx context.Context, center domain.GeoPoint, radiusKm float64, limit int) ([]domain.DriverLocation, error) {
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, center, radiusKm, limit)
	}
	return nil, nil
}

// --- Mock DelayReportRepository ---

type mockReportRepo struct {
	createFn       func(ctx context.Context, r *domain.DelayReport) error
	listByDriverFn func(ctx context.Context, driverID int64) ([]domain.DelayReport, error)
	acknowledgeFn  func(ctx context.Context, id int64, at time.Time) (*domain.DelayReport, error)
	rankFn         func(ctx context.Context) ([]domain.DriverReportSummary, error)
}

func (m *mockReportRepo) Create(ctx context.Context, r *domain.DelayReport) error {
	if m.createFn != nil {
		return m.createFn(ctx, r)
	}
	r.ID = 1
	return nil
}

func (m *mockReportRepo) GetByID(ctx context.Context, id int64) (*domain.DelayReport, error) {
	return nil, domain.NotFoundf("delay report %d", id)
}

func (m *mockReportRepo) ListByDriver(ctx context.Context, driverID int64) ([]domain.DelayReport, error) {
	if m.listByDriverFn != nil {
		return m.listByDriverFn(ctx, driverID)
	}
	return nil, nil
}

func (m *mockReportRepo) RankDrivers(ctx context.Context) ([]domain.DriverReportSummary, error) {
	if m.rankFn != nil {
		return m.rankFn(ctx)
	}
	return nil, nil
}

func (m *mockReportRepo) Acknowledge(ctx context.Context, id int64, at time.Time) (*domain.DelayReport, error) {
	if m.acknowledgeFn != nil {
		return m.acknowledgeFn(ctx, id, at)
	}
	return nil, domain.NotFoundf("delay report %d", id)
}

// --- In-memory EpisodeRepository ---

type episodeKey struct{ trip, geofence int64 }

// memEpisodes keeps episodes in memory with the same open/resolve rules as
// the database implementation.
type memEpisodes struct {
	mu       sync.Mutex
	episodes map[episodeKey]domain.ViolationEpisode
	reports  []domain.DelayReport
	nextID   int64

	openErr []error // consumed one per OpenWithReport call
}

func newMemEpisodes() *memEpisodes {
	return &memEpisodes{episodes: make(map[episodeKey]domain.ViolationEpisode)}
}

func (m *memEpisodes) Get(ctx context.Context, tripID, geofenceID int64) (*domain.ViolationEpisode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep, ok := m.episodes[episodeKey{tripID, geofenceID}]; ok {
		return &ep, nil
	}
	return &domain.ViolationEpisode{TripID: tripID, GeofenceID: geofenceID, State: domain.EpisodeIdle}, nil
}

func (m *memEpisodes) ListByTrip(ctx context.Context, tripID int64) ([]domain.ViolationEpisode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ViolationEpisode
	for k, ep := range m.episodes {
		if k.trip == tripID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (m *memEpisodes) OpenWithReport(ctx context.Context, ep *domain.ViolationEpisode, report *domain.DelayReport) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.openErr) > 0 {
		err := m.openErr[0]
		m.openErr = m.openErr[1:]
		if err != nil {
			return false, err
		}
	}
	k := episodeKey{ep.TripID, ep.GeofenceID}
	if cur, ok := m.episodes[k]; ok && cur.State == domain.EpisodeOpen {
		return false, nil
	}
	m.nextID++
	report.ID = m.nextID
	m.reports = append(m.reports, *report)
	stored := *ep
	stored.ReportID = &report.ID
	stored.Version++
	m.episodes[k] = stored
	return true, nil
}

func (m *memEpisodes) Resolve(ctx context.Context, tripID, geofenceID int64, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := episodeKey{tripID, geofenceID}
	ep, ok := m.episodes[k]
	if !ok || ep.State != domain.EpisodeOpen {
		return false, nil
	}
	ep.State = domain.EpisodeResolved
	ep.ResolvedAt = &at
	ep.ResolutionReason = reason
	ep.Version++
	m.episodes[k] = ep
	return true, nil
}

func (m *memEpisodes) MarkNotified(ctx context.Context, tripID, geofenceID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := episodeKey{tripID, geofenceID}
	if ep, ok := m.episodes[k]; ok {
		ep.NotifiedAt = &at
		m.episodes[k] = ep
	}
	return nil
}

// moveOpen re-keys open episodes of one geofence onto its successor.
func (m *memEpisodes) moveOpen(oldID, nextID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, ep := range m.episodes {
		if k.geofence == oldID && ep.State == domain.EpisodeOpen {
			delete(m.episodes, k)
			ep.GeofenceID = nextID
			m.episodes[episodeKey{k.trip, nextID}] = ep
		}
	}
}

func (m *memEpisodes) reportCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

// --- In-memory NotificationRepository ---

type memNotifications struct {
	mu        sync.Mutex
	items     []domain.Notification
	createErr error
}

func (m *memNotifications) Create(ctx context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = int64(len(m.items) + 1)
	m.items = append(m.items, *n)
	return nil
}

func (m *memNotifications) ListByRecipient(ctx context.Context, recipientID int64, offset, limit int) ([]domain.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.items {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memNotifications) MarkRead(ctx context.Context, id, recipientID int64) error {
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

func (m *memNotifications) recipients() map[int64]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[int64]int)
	for _, n := range m.items {
		counts[n.RecipientID]++
	}
	return counts
}

// --- In-memory TimerRepository ---

type memTimers struct {
	mu     sync.Mutex
	timers map[episodeKey]domain.GeofenceTimer
}

func newMemTimers() *memTimers {
	return &memTimers{timers: make(map[episodeKey]domain.GeofenceTimer)}
}

func (m *memTimers) Get(ctx context.Context, tripID, geofenceID int64) (*domain.GeofenceTimer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[episodeKey{tripID, geofenceID}]; ok {
		return &t, nil
	}
	return &domain.GeofenceTimer{TripID: tripID, GeofenceID: geofenceID, State: domain.TimerIdle}, nil
}

func (m *memTimers) Start(ctx context.Context, t *domain.GeofenceTimer) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := episodeKey{t.TripID, t.GeofenceID}
	if cur, ok := m.timers[k]; ok && cur.State == domain.TimerRunning {
		*t = cur
		return false, nil
	}
	m.timers[k] = *t
	return true, nil
}

func (m *memTimers) Transition(ctx context.Context, tripID, geofenceID int64, from, to domain.TimerState, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := episodeKey{tripID, geofenceID}
	cur, ok := m.timers[k]
	if !ok || cur.State != from {
		return false, nil
	}
	cur.State = to
	switch to {
	case domain.TimerFired:
		cur.FiredAt = &at
	case domain.TimerCancelled:
		cur.CancelledAt = &at
	}
	m.timers[k] = cur
	return true, nil
}

func (m *memTimers) ListByTrip(ctx context.Context, tripID int64) ([]domain.GeofenceTimer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GeofenceTimer
	for k, t := range m.timers {
		if k.trip == tripID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTimers) state(tripID, geofenceID int64) domain.TimerState {
	t, _ := m.Get(context.Background(), tripID, geofenceID)
	return t.State
}

// --- In-memory CacheService ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) SetNX(ctx context.Context, key string, value []byte, ttlSeconds int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *memCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// --- Mock LiveChannel ---

type mockLive struct {
	mu     sync.Mutex
	online map[int64]bool
	sent   map[int64]int
}

func newMockLive(online ...int64) *mockLive {
	m := &mockLive{online: make(map[int64]bool), sent: make(map[int64]int)}
	for _, id := range online {
		m.online[id] = true
	}
	return m
}

func (m *mockLive) Register(recipientID int64, h ports.LiveHandle) error { return nil }
func (m *mockLive) Release(recipientID int64, h ports.LiveHandle)        {}

func (m *mockLive) IsOnline(recipientID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[recipientID]
}

func (m *mockLive) Send(ctx context.Context, recipientID int64, payload []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online[recipientID] {
		return false, nil
	}
	m.sent[recipientID]++
	return true, nil
}

// --- Mock PushSender ---

type mockPush struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (m *mockPush) SendPush(ctx context.Context, token, title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, token)
	return m.err
}

// --- Mock TimerScheduler ---

type mockScheduler struct {
	mu              sync.Mutex
	scheduled       []episodeKey
	cancelled       []episodeKey
	regenerations   []int64
	cancelledRegens []int64
	scheduleErr     error
}

func (m *mockScheduler) ScheduleTimer(ctx context.Context, tripID, geofenceID int64, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduleErr != nil {
		return m.scheduleErr
	}
	m.scheduled = append(m.scheduled, episodeKey{tripID, geofenceID})
	return nil
}

func (m *mockScheduler) CancelTimer(ctx context.Context, tripID, geofenceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, episodeKey{tripID, geofenceID})
	return nil
}

func (m *mockScheduler) ScheduleRegeneration(ctx context.Context, geofenceID int64, every time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regenerations = append(m.regenerations, geofenceID)
	return nil
}

func (m *mockScheduler) CancelRegeneration(ctx context.Context, geofenceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledRegens = append(m.cancelledRegens, geofenceID)
	return nil
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu         sync.Mutex
	locations  int
	violations []domain.ViolationEvent
	timers     []domain.TimerEvent
}

func (m *mockPublisher) PublishLocation(ctx context.Context, ev *domain.LocationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations++
	return nil
}

func (m *mockPublisher) PublishViolation(ctx context.Context, ev *domain.ViolationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, *ev)
	return nil
}

func (m *mockPublisher) PublishTimerEvent(ctx context.Context, ev *domain.TimerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = append(m.timers, *ev)
	return nil
}

// --- Mock RoutePlanner ---

type mockPlanner struct {
	planFn func(ctx context.Context, source, destination string, waypoints []string) (*domain.RoutePlan, error)
}

func (m *mockPlanner) PlanRoute(ctx context.Context, source, destination string, waypoints []string) (*domain.RoutePlan, error) {
	return m.planFn(ctx, source, destination, waypoints)
}

// --- Mock GeofenceProvider ---

type mockProvider struct {
	ref      string
	err      error
	inside   bool
	checkErr error
	checked  []string
}

func (m *mockProvider) CreateGeofence(ctx context.Context, center domain.GeoPoint, radiusKm float64) (string, error) {
	return m.ref, m.err
}

func (m *mockProvider) CheckGeofence(ctx context.Context, pos domain.GeoPoint, ref string) (bool, error) {
	m.checked = append(m.checked, ref)
	return m.inside, m.checkErr
}

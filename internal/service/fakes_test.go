package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/cache"
	"github.com/Freeeeeet/consult_booking/internal/config"
	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/repository"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errCalendarDown = errors.New("calendar 503")

// fakeStore хранилище в памяти. WithinTx сериализованы мьютексом, как advisory-блокировкой
type fakeStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	bookings map[uuid.UUID]*model.Booking
	now      func() time.Time
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{bookings: make(map[uuid.UUID]*model.Booking), now: now}
}

func clone(b *model.Booking) *model.Booking {
	c := *b
	return &c
}

func (s *fakeStore) seed(b *model.Booking) *model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	s.bookings[b.ID] = clone(b)
	return b
}

func (s *fakeStore) get(id uuid.UUID) *model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bookings[id]; ok {
		return clone(b)
	}
	return nil
}

func (s *fakeStore) FindBookings(ctx context.Context, f model.BookingFilter) ([]*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return find(s.bookings, f), nil
}

func (s *fakeStore) CountBookings(ctx context.Context, f model.BookingFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(find(s.bookings, f)), nil
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return s.get(id), nil
}

func (s *fakeStore) UpdateSync(ctx context.Context, id uuid.UUID, patch model.SyncPatch) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	patch.Apply(b)
	if b.CalendarSynced && b.RequiresManualCalendarSync {
		return nil, fmt.Errorf("calendar sync flags both set")
	}
	return clone(b), nil
}

func (s *fakeStore) CompletePast(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, b := range s.bookings {
		if b.Status == model.BookingStatusConfirmed && !b.Slot.EndTime().After(before) {
			b.Status = model.BookingStatusCompleted
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) WithinTx(ctx context.Context, locks []repository.LockKey, fn func(ctx context.Context, tx repository.BookingTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	staged := make(map[uuid.UUID]*model.Booking, len(s.bookings))
	for id, b := range s.bookings {
		staged[id] = clone(b)
	}
	s.mu.Unlock()

	if err := fn(ctx, &fakeTx{bookings: staged, now: s.now}); err != nil {
		return err
	}

	s.mu.Lock()
	s.bookings = staged
	s.mu.Unlock()
	return nil
}

type fakeTx struct {
	bookings map[uuid.UUID]*model.Booking
	now      func() time.Time
}

func (t *fakeTx) FindBookings(ctx context.Context, f model.BookingFilter) ([]*model.Booking, error) {
	return find(t.bookings, f), nil
}

func (t *fakeTx) CountBookings(ctx context.Context, f model.BookingFilter) (int, error) {
	return len(find(t.bookings, f)), nil
}

func (t *fakeTx) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	if b, ok := t.bookings[id]; ok {
		return clone(b), nil
	}
	return nil, nil
}

func (t *fakeTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	if err := t.checkExclusion(b); err != nil {
		return err
	}
	b.CreatedAt = t.now()
	b.UpdatedAt = b.CreatedAt
	t.bookings[b.ID] = clone(b)
	return nil
}

func (t *fakeTx) UpdateBooking(ctx context.Context, b *model.Booking) error {
	existing, ok := t.bookings[b.ID]
	if !ok {
		return fmt.Errorf("update booking %s: not found", b.ID)
	}
	if err := t.checkExclusion(b); err != nil {
		return err
	}
	// флаги синхронизации через UpdateBooking не меняются
	updated := clone(existing)
	updated.ContactDetails = b.ContactDetails
	updated.Slot = b.Slot
	updated.Status = b.Status
	updated.UpdatedAt = t.now()
	t.bookings[b.ID] = updated
	return nil
}

func (t *fakeTx) checkExclusion(b *model.Booking) error {
	if !b.Status.Active() {
		return nil
	}
	for id, other := range t.bookings {
		if id == b.ID || !other.Status.Active() {
			continue
		}
		if model.Overlaps(b.Interval(), other.Interval(), 0) {
			return repository.ErrSlotOverlap
		}
	}
	return nil
}

func find(bookings map[uuid.UUID]*model.Booking, f model.BookingFilter) []*model.Booking {
	var out []*model.Booking
	for _, b := range bookings {
		if matches(b, f) {
			out = append(out, clone(b))
		}
	}
	// порядок как ORDER BY start_time
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Slot.StartTime().Before(out[j-1].Slot.StartTime()); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func matches(b *model.Booking, f model.BookingFilter) bool {
	start, end := b.Slot.StartTime(), b.Slot.EndTime()
	switch {
	case !f.OverlapStart.IsZero() && !end.After(f.OverlapStart):
		return false
	case !f.OverlapEnd.IsZero() && !start.Before(f.OverlapEnd):
		return false
	case !f.StartFrom.IsZero() && start.Before(f.StartFrom):
		return false
	case !f.StartTo.IsZero() && start.After(f.StartTo):
		return false
	case !f.CreatedSince.IsZero() && b.CreatedAt.Before(f.CreatedSince):
		return false
	case f.Email != "" && !strings.EqualFold(b.Email, strings.TrimSpace(f.Email)):
		return false
	case f.Duration > 0 && b.Slot.Duration() != f.Duration:
		return false
	case f.ExcludeID != nil && b.ID == *f.ExcludeID:
		return false
	case f.ManualSync && !b.NeedsManualSync():
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if b.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

type fakeCalendar struct {
	mu        sync.Mutex
	busy      []model.BusyPeriod
	busyErr   error
	createErr error
	updateErr error
	deleteErr error
	busyCalls int
	// если задан, CreateEvent сообщает в createStarted и ждёт закрытия createGate
	createGate    chan struct{}
	createStarted chan struct{}
	created   []model.CalendarEvent
	updated   map[string]model.CalendarEvent
	deleted   []string
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{updated: make(map[string]model.CalendarEvent)}
}

func (c *fakeCalendar) GetBusyPeriods(ctx context.Context, start, end time.Time) ([]model.BusyPeriod, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busyCalls++
	if c.busyErr != nil {
		return nil, c.busyErr
	}
	var out []model.BusyPeriod
	for _, p := range c.busy {
		if p.End.After(start) && p.Start.Before(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *fakeCalendar) CreateEvent(ctx context.Context, event model.CalendarEvent) (string, error) {
	if c.createGate != nil {
		c.createStarted <- struct{}{}
		<-c.createGate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return "", c.createErr
	}
	c.created = append(c.created, event)
	return fmt.Sprintf("evt-%d", len(c.created)), nil
}

func (c *fakeCalendar) UpdateEvent(ctx context.Context, eventID string, event model.CalendarEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	c.updated[eventID] = event
	return nil
}

func (c *fakeCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.deleted = append(c.deleted, eventID)
	return nil
}

func (c *fakeCalendar) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busyErr, c.createErr, c.updateErr, c.deleteErr = err, err, err, err
}

type fakeCRM struct {
	mu       sync.Mutex
	err      error
	contacts map[string]model.ContactProperties
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{contacts: make(map[string]model.ContactProperties)}
}

func (c *fakeCRM) UpsertContact(ctx context.Context, email string, props model.ContactProperties) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.contacts[email] = props
	return "contact-" + email, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	manual  []string
	digests [][]*model.Booking
}

func (n *fakeNotifier) NotifyManualSync(ctx context.Context, b *model.Booking, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.manual = append(n.manual, b.ID.String()+": "+reason)
	return nil
}

func (n *fakeNotifier) NotifyDigest(ctx context.Context, bookings []*model.Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, bookings)
	return nil
}

// Понедельник 1 января 2024, часы работы 09:00-17:00 UTC
var (
	monday   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fixedNow = time.Date(2023, 12, 1, 12, 0, 0, 0, time.UTC)
)

func at(day time.Time, hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func mustSlot(t *testing.T, start time.Time, duration int) model.TimeSlot {
	t.Helper()
	slot, err := model.NewTimeSlot(start, duration)
	require.NoError(t, err)
	return slot
}

func confirmedBooking(t *testing.T, email string, start time.Time, duration int) *model.Booking {
	return &model.Booking{
		ContactDetails: model.ContactDetails{Name: "Client", Email: email},
		Slot:           mustSlot(t, start, duration),
		Status:         model.BookingStatusConfirmed,
	}
}

func testRules() *config.BusinessRules {
	rules := config.DefaultBusinessRules()
	rules.AdminEmail = "admin@consult.io"
	return rules
}

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	return cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

type testEnv struct {
	t            *testing.T
	rules        *config.BusinessRules
	store        *fakeStore
	calendar     *fakeCalendar
	crm          *fakeCRM
	notifier     *fakeNotifier
	availability *AvailabilityService
	limiter      *FrequencyLimiter
	sync         *SyncService
	queue        *SyncQueue
	bookings     *BookingService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	now := func() time.Time { return fixedNow }

	env := &testEnv{
		t:        t,
		rules:    testRules(),
		store:    newFakeStore(now),
		calendar: newFakeCalendar(),
		crm:      newFakeCRM(),
		notifier: &fakeNotifier{},
	}

	env.availability = NewAvailabilityService(env.rules, env.store, env.calendar, newTestCache(t), logger)
	env.availability.now = now
	env.limiter = NewFrequencyLimiter(env.rules, env.store, logger)
	env.limiter.now = now
	env.sync = NewSyncService(env.rules, env.store, env.calendar, env.crm, env.notifier, logger)
	env.queue = NewSyncQueue(env.sync, 1, 16, time.Second, logger)
	env.queue.Start(context.Background())
	env.bookings = NewBookingService(env.rules, env.store, env.availability, env.limiter, env.calendar, env.queue, logger)
	env.bookings.now = now

	t.Cleanup(func() { env.queue.Stop() })
	return env
}

// blockCreate заставляет CreateEvent ждать release. Возвращает канал, сигналящий о начале вызова
func (c *fakeCalendar) blockCreate() (started <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{}, 16)
	c.createGate, c.createStarted = gate, ch
	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

// withWorkers заменяет очередь на очередь с несколькими воркерами
func (e *testEnv) withWorkers(workers int) {
	e.queue.Stop()
	e.queue = NewSyncQueue(e.sync, workers, 16, 5*time.Second, zaptest.NewLogger(e.t))
	e.queue.Start(context.Background())
	e.bookings.queue = e.queue
}

// drain дожидается выполнения всех задач синхронизации и запускает новую очередь
func (e *testEnv) drain() {
	e.queue.Stop()
	e.queue = NewSyncQueue(e.sync, 1, 16, time.Second, zaptest.NewLogger(e.t))
	e.queue.Start(context.Background())
	e.bookings.queue = e.queue
}

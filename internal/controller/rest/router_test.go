package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/resilience"
	"github.com/Freeeeeet/consult_booking/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const adminToken = "s3cret"

var slotStart = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

type fakeBookings struct {
	created    []service.CreateBookingRequest
	updated    []service.UpdateBookingRequest
	err        error
	booking    *model.Booking
	manual     []*model.Booking
	manualSeen int
}

func (f *fakeBookings) CreateBooking(ctx context.Context, req service.CreateBookingRequest) (*model.Booking, error) {
	f.created = append(f.created, req)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Booking{ID: uuid.New(), ContactDetails: req.Details, Slot: req.Slot, Status: model.BookingStatusConfirmed}, nil
}

func (f *fakeBookings) UpdateBooking(ctx context.Context, id uuid.UUID, req service.UpdateBookingRequest) (*model.Booking, error) {
	f.updated = append(f.updated, req)
	return f.result(id)
}

func (f *fakeBookings) CancelBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return f.result(id)
}

func (f *fakeBookings) GetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return f.result(id)
}

func (f *fakeBookings) ListManualSync(ctx context.Context, limit int) ([]*model.Booking, error) {
	f.manualSeen = limit
	return f.manual, f.err
}

func (f *fakeBookings) RetrySync(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return f.result(id)
}

func (f *fakeBookings) result(id uuid.UUID) (*model.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.booking != nil {
		return f.booking, nil
	}
	return &model.Booking{ID: id, Status: model.BookingStatusConfirmed}, nil
}

type fakeAvailability struct {
	start, end time.Time
	duration   int
	err        error
}

func (f *fakeAvailability) GetAvailableSlots(ctx context.Context, start, end time.Time, duration int) (*service.Availability, error) {
	f.start, f.end, f.duration = start, end, duration
	if f.err != nil {
		return nil, f.err
	}
	slot, _ := model.NewTimeSlot(start, duration)
	return &service.Availability{Slots: []model.TimeSlot{slot}}, nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router       *gin.Engine
	bookings     *fakeBookings
	availability *fakeAvailability
}

func newTestServer(t *testing.T, opts Options, registry *resilience.Registry, checks map[string]Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{bookings: &fakeBookings{}, availability: &fakeAvailability{}}
	if opts.AdminToken == "" {
		opts.AdminToken = adminToken
	}
	ts.router = NewRouter(Deps{
		Bookings:     ts.bookings,
		Availability: ts.availability,
		Registry:     registry,
		Checks:       checks,
		Logger:       zaptest.NewLogger(t),
	}, opts)
	return ts
}

func (ts *testServer) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func bookingBody() map[string]interface{} {
	return map[string]interface{}{
		"name":       "Jane Doe",
		"company":    "Acme",
		"email":      "jane@acme.io",
		"inquiry":    "Pricing",
		"start_time": slotStart.Format(time.RFC3339),
		"duration":   30,
	}
}

func TestGetAvailability(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)

	w := ts.do(http.MethodGet, "/api/availability?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z&duration=30", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.True(t, ts.availability.start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, ts.availability.end.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 30, ts.availability.duration)

	body := decode(t, w)
	assert.Len(t, body["slots"], 1)
	assert.Equal(t, false, body["degraded"])
}

func TestGetAvailabilityBadQuery(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)

	for _, path := range []string{
		"/api/availability?end=2024-01-02T00:00:00Z&duration=30",
		"/api/availability?start=yesterday&end=2024-01-02T00:00:00Z&duration=30",
		"/api/availability?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z&duration=abc",
	} {
		w := ts.do(http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestCreateBooking(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)

	w := ts.do(http.MethodPost, "/api/bookings", bookingBody(), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.Len(t, ts.bookings.created, 1)
	req := ts.bookings.created[0]
	assert.False(t, req.BypassLimits)
	assert.Equal(t, "jane@acme.io", req.Details.Email)
	assert.Equal(t, 30, req.Slot.Duration())
	assert.True(t, req.Slot.StartTime().Equal(slotStart))

	body := decode(t, w)
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, "Jane Doe", body["name"])
}

func TestCreateBookingRejectsBadDuration(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)

	body := bookingBody()
	body["duration"] = 20
	w := ts.do(http.MethodPost, "/api/bookings", body, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.bookings.created)
}

func TestErrorMapping(t *testing.T) {
	conflict := &service.SlotConflictError{
		Conflicting: model.Interval{Start: slotStart, End: slotStart.Add(30 * time.Minute)},
		Source:      service.ConflictSourceCalendar,
	}

	cases := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"validation", &service.ValidationError{Field: "email", Reason: "is invalid"}, http.StatusBadRequest, "validation_failed"},
		{"frequency", &service.FrequencyLimitError{Limit: 2, Window: 30 * 24 * time.Hour}, http.StatusTooManyRequests, "frequency_limit"},
		{"conflict", fmt.Errorf("create booking: %w", conflict), http.StatusConflict, "slot_conflict"},
		{"closed", service.ErrBookingClosed, http.StatusConflict, "booking_closed"},
		{"not found", service.ErrBookingNotFound, http.StatusNotFound, "not_found"},
		{"queue full", fmt.Errorf("enqueue retry: %w", service.ErrQueueFull), http.StatusServiceUnavailable, "sync_unavailable"},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, Options{}, nil, nil)
			ts.bookings.err = tc.err

			w := ts.do(http.MethodPost, "/api/bookings", bookingBody(), "")
			require.Equal(t, tc.code, w.Code, w.Body.String())
			assert.Equal(t, tc.kind, decode(t, w)["error"])
		})
	}
}

func TestConflictResponseCarriesInterval(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)
	ts.bookings.err = &service.SlotConflictError{
		Conflicting: model.Interval{Start: slotStart, End: slotStart.Add(30 * time.Minute)},
		Source:      service.ConflictSourceBooking,
	}

	w := ts.do(http.MethodPost, "/api/bookings", bookingBody(), "")
	require.Equal(t, http.StatusConflict, w.Code)

	body := decode(t, w)
	assert.Equal(t, "booking", body["source"])
	conflicting := body["conflicting"].(map[string]interface{})
	assert.Equal(t, "2024-01-02T10:00:00Z", conflicting["start_time"])
	assert.Equal(t, "2024-01-02T10:30:00Z", conflicting["end_time"])
}

func TestFrequencyResponseCarriesRule(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)
	ts.bookings.err = &service.FrequencyLimitError{Limit: 1, Window: 1440 * time.Minute, Duration: 15}

	w := ts.do(http.MethodPost, "/api/bookings", bookingBody(), "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	body := decode(t, w)
	assert.EqualValues(t, 1, body["limit"])
	assert.EqualValues(t, 1440, body["window_minutes"])
	assert.EqualValues(t, 15, body["duration"])
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)
	id := uuid.New()

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/admin/bookings"},
		{http.MethodPatch, "/api/admin/bookings/" + id.String()},
		{http.MethodPost, "/api/admin/bookings/" + id.String() + "/cancel"},
		{http.MethodGet, "/api/admin/bookings/manual-sync"},
		{http.MethodPost, "/api/admin/bookings/" + id.String() + "/retry-sync"},
	} {
		assert.Equal(t, http.StatusUnauthorized, ts.do(tc.method, tc.path, nil, "").Code, tc.path)
		assert.Equal(t, http.StatusUnauthorized, ts.do(tc.method, tc.path, nil, "wrong").Code, tc.path)
	}
	assert.Empty(t, ts.bookings.created)
}

func TestAdminCreateBypassesLimits(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)

	w := ts.do(http.MethodPost, "/api/admin/bookings", bookingBody(), adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, ts.bookings.created, 1)
	assert.True(t, ts.bookings.created[0].BypassLimits)
}

func TestAdminUpdateBooking(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)
	path := "/api/admin/bookings/" + uuid.NewString()

	w := ts.do(http.MethodPatch, path, map[string]interface{}{
		"company":    "Globex",
		"start_time": slotStart.Add(2 * time.Hour).Format(time.RFC3339),
		"duration":   45,
	}, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, ts.bookings.updated, 1)
	req := ts.bookings.updated[0]
	require.NotNil(t, req.Company)
	assert.Equal(t, "Globex", *req.Company)
	require.NotNil(t, req.Slot)
	assert.Equal(t, 45, req.Slot.Duration())
	assert.Nil(t, req.Name)
	assert.Nil(t, req.Status)

	w = ts.do(http.MethodPatch, path, map[string]interface{}{"status": "no_show"}, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, ts.bookings.updated[1].Status)
	assert.Equal(t, model.BookingStatusNoShow, *ts.bookings.updated[1].Status)
}

func TestAdminUpdateRequiresFullSlot(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)

	w := ts.do(http.MethodPatch, "/api/admin/bookings/"+uuid.NewString(),
		map[string]interface{}{"duration": 45}, adminToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.bookings.updated)
}

func TestBookingIDMustBeUUID(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/bookings/42", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/admin/bookings/42/cancel", nil, adminToken).Code)
}

func TestGetBookingNotFound(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)
	ts.bookings.err = service.ErrBookingNotFound

	w := ts.do(http.MethodGet, "/api/bookings/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListManualSync(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)
	ts.bookings.manual = []*model.Booking{{ID: uuid.New(), RequiresManualCRMSync: true}}

	w := ts.do(http.MethodGet, "/api/admin/bookings/manual-sync", nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultManualSyncLimit, ts.bookings.manualSeen)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = ts.do(http.MethodGet, "/api/admin/bookings/manual-sync?limit=10000", nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxManualSyncLimit, ts.bookings.manualSeen)

	w = ts.do(http.MethodGet, "/api/admin/bookings/manual-sync?limit=-1", nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListManualSyncEmpty(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)

	w := ts.do(http.MethodGet, "/api/admin/bookings/manual-sync", nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["bookings"])
}

func TestRetrySyncAccepted(t *testing.T) {
	ts := newTestServer(t, Options{}, nil, nil)

	w := ts.do(http.MethodPost, "/api/admin/bookings/"+uuid.NewString()+"/retry-sync", nil, adminToken)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestPublicRateLimit(t *testing.T) {
	ts := newTestServer(t, Options{RateLimitPerMinute: 2}, nil, nil)
	path := "/api/availability?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z&duration=30"

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, nil, "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, nil, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(http.MethodGet, path, nil, "").Code)

	// Админские маршруты не ограничиваются
	w := ts.do(http.MethodGet, "/api/admin/bookings/manual-sync", nil, adminToken)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIPRateLimiterPerIP(t *testing.T) {
	l := NewIPRateLimiter(1)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	unlimited := NewIPRateLimiter(0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("10.0.0.1"))
	}
}

func TestHealth(t *testing.T) {
	calendar := resilience.NewClient(resilience.Settings{Name: "calendar", FailureThreshold: 1, Cooldown: time.Minute}, zaptest.NewLogger(t))
	crm := resilience.NewClient(resilience.Settings{Name: "crm"}, zaptest.NewLogger(t))
	registry := resilience.NewRegistry(calendar, crm)

	checks := map[string]Pinger{
		"database": pingerFunc(func(ctx context.Context) error { return nil }),
	}
	ts := newTestServer(t, Options{}, registry, checks)

	w := ts.do(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Len(t, body["gateways"], 2)

	_ = calendar.Do(context.Background(), "get_busy", func(ctx context.Context) error {
		return resilience.Permanent(errors.New("boom"))
	})

	w = ts.do(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	gateways := body["gateways"].([]interface{})
	assert.Equal(t, "OPEN", gateways[0].(map[string]interface{})["state"])
}

func TestHealthDependencyDown(t *testing.T) {
	checks := map[string]Pinger{
		"cache": pingerFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	}
	ts := newTestServer(t, Options{}, nil, checks)

	w := ts.do(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	deps := decode(t, w)["dependencies"].(map[string]interface{})
	assert.Equal(t, "unavailable", deps["cache"].(map[string]interface{})["status"])
}

func TestCORSConfig(t *testing.T) {
	assert.True(t, corsConfig(nil).AllowAllOrigins)
	assert.True(t, corsConfig([]string{"*"}).AllowAllOrigins)

	cfg := corsConfig([]string{"https://consult.io"})
	assert.False(t, cfg.AllowAllOrigins)
	assert.Equal(t, []string{"https://consult.io"}, cfg.AllowOrigins)
}

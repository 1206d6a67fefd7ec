package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-keys/campaign-tracker/internal/capture"
	"github.com/meridian-keys/campaign-tracker/internal/config"
	"github.com/meridian-keys/campaign-tracker/internal/store"
	"github.com/meridian-keys/campaign-tracker/pkg/posthog"
)

// stubClient records forwarded events; fail makes every capture error.
type stubClient struct {
	mu     sync.Mutex
	events []posthog.Event
	fail   bool
}

func (c *stubClient) Capture(ctx context.Context, ev posthog.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return eris.New("posthog: /capture/ returned 503")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *stubClient) Enqueue(ev posthog.Event)        {}
func (c *stubClient) Flush(ctx context.Context) error { return nil }
func (c *stubClient) Enabled() bool                   { return true }

type testEnv struct {
	server *Server
	store  store.Store
	client *stubClient
	router http.Handler
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:               0,
			CORSOrigins:        []string{"*"},
			ErrorTrackingRPS:   100,
			ErrorTrackingBurst: 100,
		},
		Flags: config.FlagsConfig{Defaults: map[string]bool{"gallery_v2": true}},
	}
	if mutate != nil {
		mutate(cfg)
	}

	client := &stubClient{}
	facade := capture.New(client, nil, nil, 50)
	srv := New(cfg, st, facade, nil)

	return &testEnv{server: srv, store: st, client: client, router: srv.Router()}
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestBooking_PersistsAndCaptures(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.router, "/api/bookings", map[string]string{
		"name":          "Ana Leigh",
		"email":         "ana@example.com",
		"phone":         "(214) 555-0188",
		"preferredDate": "2026-09-20",
		"source":        "plano:hero",
		"campaignId":    "plano-showroom-sale",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.BookingID)

	bookings, err := env.store.ListBookings(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "ana@example.com", bookings[0].Email)
	assert.Equal(t, resp.BookingID, bookings[0].ID)

	env.client.mu.Lock()
	defer env.client.mu.Unlock()
	require.Len(t, env.client.events, 1)
	assert.Equal(t, "booking_completed", env.client.events[0].Event)
}

func TestBooking_MissingFieldsStill200(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.router, "/api/bookings", map[string]string{"name": "No Email"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Empty(t, resp.BookingID)
}

func TestBooking_Returns200WhenAnalyticsDown(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.fail = true

	rec := postJSON(t, env.router, "/api/bookings", map[string]string{
		"name":  "Ana Leigh",
		"email": "ana@example.com",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success, "analytics failure must not fail the booking")
}

func TestBookingTest_ForbiddenOutsideDevMode(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := postJSON(t, env.router, "/api/bookings/test", map[string]string{
		"name":  "Dev Test",
		"email": "dev@example.com",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	dev := newTestEnv(t, func(cfg *config.Config) { cfg.Server.DevMode = true })
	rec = postJSON(t, dev.router, "/api/bookings/test", map[string]string{
		"name":  "Dev Test",
		"email": "dev@example.com",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	dev.client.mu.Lock()
	defer dev.client.mu.Unlock()
	assert.Empty(t, dev.client.events, "test bookings are not forwarded to analytics")
}

func TestErrorTracking_ShedsAboveBurstWith200(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.ErrorTrackingRPS = 0.001
		cfg.Server.ErrorTrackingBurst = 2
	})

	body := map[string]any{"error": "TypeError: x is undefined"}
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, postJSON(t, env.router, "/api/error-tracking", body).Code,
			"beacon endpoint always answers 200")
	}

	// Only the burst made it through to analytics; the rest were dropped.
	env.client.mu.Lock()
	defer env.client.mu.Unlock()
	assert.Len(t, env.client.events, 2)
}

func TestErrorTracking_CapturesEventForm(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.router, "/api/error-tracking", map[string]any{
		"event":   "gallery_load_failed",
		"context": map[string]any{"image": "steinway-b.jpg"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	env.client.mu.Lock()
	defer env.client.mu.Unlock()
	require.Len(t, env.client.events, 1)
	assert.Equal(t, "gallery_load_failed", env.client.events[0].Event)
	assert.Equal(t, "steinway-b.jpg", env.client.events[0].Properties["image"])
}

func TestCalWebhook_KnownAndUnknownTriggers(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.router, "/api/webhooks/cal", map[string]any{
		"triggerEvent": "BOOKING_CREATED",
		"payload":      map[string]any{"uid": "cal-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = postJSON(t, env.router, "/api/webhooks/cal", map[string]any{
		"triggerEvent": "MEETING_ENDED",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ignored"`)

	env.client.mu.Lock()
	defer env.client.mu.Unlock()
	require.Len(t, env.client.events, 1, "only recognized triggers produce events")
	assert.Equal(t, "cal_booking_created", env.client.events[0].Event)
}

func TestBootstrap_CookiesAndPayload(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Maps.APIKey = "maps-key-123"
	})

	req := httptest.NewRequest(http.MethodGet, "/api/bootstrap", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		DistinctID   string          `json:"distinctID"`
		FeatureFlags map[string]bool `json:"featureFlags"`
		MapsAPIKey   string          `json:"mapsApiKey"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.DistinctID)
	assert.Equal(t, map[string]bool{"gallery_v2": true}, resp.FeatureFlags)
	assert.Equal(t, "maps-key-123", resp.MapsAPIKey)

	var visitor, bootstrap *http.Cookie
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case visitorCookieName:
			visitor = c
		case bootstrapCookieName:
			bootstrap = c
		}
	}
	require.NotNil(t, visitor)
	assert.Equal(t, visitorCookieMaxAge, visitor.MaxAge)
	require.NotNil(t, bootstrap)
	assert.Equal(t, bootstrapCookieMaxAge, bootstrap.MaxAge)

	// Returning visitor: same identity, no fresh visitor cookie.
	req2 := httptest.NewRequest(http.MethodGet, "/api/bootstrap", nil)
	req2.AddCookie(visitor)
	rec2 := httptest.NewRecorder()
	env.router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var resp2 struct {
		DistinctID string `json:"distinctID"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))
	assert.Equal(t, resp.DistinctID, resp2.DistinctID)

	for _, c := range rec2.Result().Cookies() {
		assert.NotEqual(t, visitorCookieName, c.Name, "visitor cookie is set once")
	}
}

func TestConsent_PersistsAndCaptures(t *testing.T) {
	env := newTestEnv(t, nil)

	// Establish identity first so consent is keyed to the visitor.
	req := httptest.NewRequest(http.MethodGet, "/api/bootstrap", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	cookies := rec.Result().Cookies()

	raw, _ := json.Marshal(map[string]bool{"analytics": true, "functional": true})
	req2 := httptest.NewRequest(http.MethodPost, "/api/consent", bytes.NewReader(raw))
	for _, c := range cookies {
		req2.AddCookie(c)
	}
	rec2 := httptest.NewRecorder()
	env.router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var resp struct {
		DistinctID string `json:"distinctID"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	pref, err := env.store.GetConsent(context.Background(), resp.DistinctID)
	require.NoError(t, err)
	assert.True(t, pref.Analytics)
	assert.False(t, pref.Advertising)
	assert.True(t, pref.Functional)

	env.client.mu.Lock()
	defer env.client.mu.Unlock()
	require.Len(t, env.client.events, 1)
	assert.Equal(t, "consent_updated", env.client.events[0].Event)
}

func TestDebugEvents_DevModeOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/debug/events", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	dev := newTestEnv(t, func(cfg *config.Config) { cfg.Server.DevMode = true })
	dev.server.facade.Capture(context.Background(), "page_viewed",
		map[string]any{"page": "/"}, capture.Options{DistinctID: "v"})

	req = httptest.NewRequest(http.MethodGet, "/api/debug/events", nil)
	rec = httptest.NewRecorder()
	dev.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Stats struct {
			Total int `json:"total"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Stats.Total)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/bookings", nil)
	req.Header.Set("Origin", "https://pianos.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/mahakalaqua/visitor-tracker/internal/domain/errors"
	"github.com/mahakalaqua/visitor-tracker/internal/domain/visitor"
	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/flagstore"
	"github.com/mahakalaqua/visitor-tracker/internal/service/tracking"
)

type stubBackend struct {
	session    visitor.VisitorSession
	sessionErr error
	contactOK  bool
}

func (b *stubBackend) Session(ctx context.Context, sessionID string) (visitor.VisitorSession, error) {
	if b.sessionErr != nil {
		return visitor.VisitorSession{}, b.sessionErr
	}
	return b.session, nil
}

func (b *stubBackend) Track(ctx context.Context, sessionID string, req visitor.TrackRequest) (string, error) {
	return "visit-1", nil
}

func (b *stubBackend) SubmitLocation(ctx context.Context, sessionID string, data visitor.LocationData) (bool, error) {
	return true, nil
}

func (b *stubBackend) SubmitContact(ctx context.Context, sessionID string, data visitor.ContactData) (bool, error) {
	return b.contactOK, nil
}

type stubRequester struct {
	granted   bool
	requested bool
}

func (s *stubRequester) RequestPermission(ctx context.Context, sessionID string) bool {
	s.requested = true
	return s.granted
}

func (s *stubRequester) Requested() bool { return s.requested }
func (s *stubRequester) Rearm()          {}

type testEnv struct {
	mux      *http.ServeMux
	store    *flagstore.MemoryStore
	registry *tracking.Registry
	backend  *stubBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := flagstore.NewMemoryStore()
	backend := &stubBackend{
		session:   visitor.VisitorSession{HasSession: true, CookieConsent: true, SessionID: "sess-1"},
		contactOK: true,
	}
	requester := &stubRequester{granted: true}
	registry := tracking.NewRegistry(func(visitorID string) *tracking.Coordinator {
		return tracking.NewCoordinator(
			context.Background(),
			zap.NewNop(),
			flagstore.Scope(store, visitorID),
			backend,
			requester,
			nil,
			nil,
			// prompts far out so timers never fire mid-test
			tracking.Config{LocationDelay: time.Hour, ContactDelay: time.Hour},
		)
	})
	t.Cleanup(registry.Close)

	env := &testEnv{
		mux:      http.NewServeMux(),
		store:    store,
		registry: registry,
		backend:  backend,
	}
	handler := NewHandler(zap.NewNop(), registry, nil, nil)
	handler.Register(env.mux)
	return env
}

// remount models a fresh server instance over the same persisted flags,
// the way a page reload re-runs the entry decision.
func (e *testEnv) remount(t *testing.T) *testEnv {
	t.Helper()
	next := &testEnv{
		mux:      http.NewServeMux(),
		store:    e.store,
		registry: e.registry,
		backend:  e.backend,
	}
	handler := NewHandler(zap.NewNop(), e.registry, nil, nil)
	handler.Register(next.mux)
	return next
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.AddCookie(&http.Cookie{Name: visitorCookieName, Value: "visitor-1"})
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeFlow(t *testing.T, rec *httptest.ResponseRecorder) flowResponse {
	t.Helper()
	var resp flowResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFlowMintsVisitorCookie(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/flow", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, visitorCookieName, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

// Fresh visitor accepts cookies, then declines location. The flow walks
// cookie -> location -> completed and the skip is terminal.
func TestAcceptCookiesThenSkipLocation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/flow", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeFlow(t, rec)
	assert.Equal(t, "cookie", state.Step)
	assert.True(t, state.Visible)

	rec = env.do(t, http.MethodPost, "/api/v1/flow/cookie", map[string]bool{"accept": true})
	require.Equal(t, http.StatusOK, rec.Code)
	state = decodeFlow(t, rec)
	assert.Equal(t, "location", state.Step)

	// acceptance mirrors consent into a cookie
	var consentCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == consentCookieName {
			consentCookie = c
		}
	}
	require.NotNil(t, consentCookie)
	assert.Equal(t, "true", consentCookie.Value)

	rec = env.do(t, http.MethodPost, "/api/v1/flow/location", map[string]bool{"allow": false})
	require.Equal(t, http.StatusOK, rec.Code)
	state = decodeFlow(t, rec)
	assert.Equal(t, "completed", state.Step)
	require.NotNil(t, state.Granted)
	assert.False(t, *state.Granted)

	// the skip is remembered: a remount lands on completed, hidden
	rec = env.remount(t).do(t, http.MethodGet, "/api/v1/flow", nil)
	state = decodeFlow(t, rec)
	assert.Equal(t, "completed", state.Step)
	assert.False(t, state.Visible)
}

func TestAllowLocationReportsGrant(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/flow/cookie", map[string]bool{"accept": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/flow/location", map[string]bool{"allow": true})
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeFlow(t, rec)
	assert.Equal(t, "completed", state.Step)
	require.NotNil(t, state.Granted)
	assert.True(t, *state.Granted)
}

// Declining cookies completes the flow for this mount only. The decision is
// not a recorded acceptance, so the next mount shows the cookie step again.
func TestDeclineCookiesReshownOnRemount(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/flow/cookie", map[string]bool{"accept": false})
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeFlow(t, rec)
	assert.Equal(t, "completed", state.Step)

	rec = env.remount(t).do(t, http.MethodGet, "/api/v1/flow", nil)
	state = decodeFlow(t, rec)
	assert.Equal(t, "cookie", state.Step)
	assert.True(t, state.Visible)
}

func TestLocationDecisionBeforeCookieRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/flow/location", map[string]bool{"allow": true})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STEP", decodeError(t, rec).Code)
}

func TestCookieDecisionValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", "{", "MALFORMED_BODY"},
		{"missing accept", "{}", "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/flow/cookie", bytes.NewBufferString(tt.body))
			req.AddCookie(&http.Cookie{Name: visitorCookieName, Value: "visitor-1"})
			rec := httptest.NewRecorder()
			env.mux.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestLocationUpdate(t *testing.T) {
	env := newTestEnv(t)

	t.Run("valid position accepted", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/location", map[string]interface{}{
			"latitude":  22.7196,
			"longitude": 75.8577,
			"accuracy":  30.0,
			"timezone":  "Asia/Kolkata",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]bool
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp["success"])
	})

	t.Run("out-of-range coordinate rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/location", map[string]interface{}{
			"latitude":  123.0,
			"longitude": 75.8577,
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_COORDINATE", decodeError(t, rec).Code)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/location", map[string]interface{}{
			"latitude": 22.7196,
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec).Code)
	})
}

func TestContactValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("structural errors carry field tags", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/contact", map[string]string{
			"phoneNumber": "+14155551234",
			"name":        "A",
			"email":       "not-an-email",
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "INVALID_REQUEST", body.Code)
		assert.Equal(t, "min", body.Fields["Name"])
		assert.Equal(t, "email", body.Fields["Email"])
	})

	t.Run("phone format rejected by domain rules", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/contact", map[string]string{
			"phoneNumber": "123",
			"name":        "Alice",
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Contains(t, body.Fields, "phoneNumber")
	})

	t.Run("valid contact accepted", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/contact", map[string]string{
			"phoneNumber": "+14155551234",
			"name":        "Alice",
			"email":       "alice@example.com",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]bool
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp["success"])
	})
}

func TestContactBackendRejection(t *testing.T) {
	env := newTestEnv(t)
	env.backend.contactOK = false

	rec := env.do(t, http.MethodPost, "/api/v1/contact", map[string]string{
		"phoneNumber": "+14155551234",
	})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSessionEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var session visitor.VisitorSession
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	assert.True(t, session.HasSession)
	assert.True(t, session.CookieConsent)
}

func TestSessionEndpointSafeDefault(t *testing.T) {
	env := newTestEnv(t)
	env.backend.sessionErr = apperrors.NewExternalError("visitor backend", "down")

	rec := env.do(t, http.MethodGet, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var session visitor.VisitorSession
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	assert.False(t, session.HasSession)
	assert.False(t, session.CookieConsent)
}

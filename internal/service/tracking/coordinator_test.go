package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mahakalaqua/visitor-tracker/internal/domain/errors"
	"github.com/mahakalaqua/visitor-tracker/internal/domain/flow"
	"github.com/mahakalaqua/visitor-tracker/internal/domain/visitor"
	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/flagstore"
)

type mockBackend struct {
	mu sync.Mutex

	session    visitor.VisitorSession
	sessionErr error
	visitID    string
	trackErr   error
	locationOK bool
	contactOK  bool
	contactErr error

	sessionCalls int
	tracked      []visitor.TrackRequest
	contacts     []visitor.ContactData
}

func (m *mockBackend) Session(ctx context.Context, sessionID string) (visitor.VisitorSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionCalls++
	if m.sessionErr != nil {
		return visitor.VisitorSession{}, m.sessionErr
	}
	return m.session, nil
}

func (m *mockBackend) Track(ctx context.Context, sessionID string, req visitor.TrackRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = append(m.tracked, req)
	if m.trackErr != nil {
		return "", m.trackErr
	}
	return m.visitID, nil
}

func (m *mockBackend) SubmitLocation(ctx context.Context, sessionID string, data visitor.LocationData) (bool, error) {
	return m.locationOK, nil
}

func (m *mockBackend) SubmitContact(ctx context.Context, sessionID string, data visitor.ContactData) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = append(m.contacts, data)
	return m.contactOK, m.contactErr
}

type fakeRequester struct {
	mu       sync.Mutex
	granted  bool
	requests int
	rearms   int
}

func (f *fakeRequester) RequestPermission(ctx context.Context, sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return f.granted
}

func (f *fakeRequester) Requested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests > 0
}

func (f *fakeRequester) Rearm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rearms++
}

func (f *fakeRequester) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeRequester) rearmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rearms
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func testCoordinator(t *testing.T, backend *mockBackend, requester *fakeRequester) (*Coordinator, *flagstore.Flags, *captureSink) {
	t.Helper()
	flags := flagstore.Scope(flagstore.NewMemoryStore(), "v1")
	sink := &captureSink{}
	c := NewCoordinator(
		context.Background(),
		zap.NewNop(),
		flags,
		backend,
		requester,
		nil,
		sink,
		Config{LocationDelay: 5 * time.Millisecond, ContactDelay: 10 * time.Millisecond},
	)
	t.Cleanup(c.Close)
	return c, flags, sink
}

func consentedBackend() *mockBackend {
	return &mockBackend{
		session:    visitor.VisitorSession{HasSession: true, CookieConsent: true, SessionID: "sess-1"},
		visitID:    "visit-1",
		locationOK: true,
		contactOK:  true,
	}
}

func TestGetSessionSafeDefault(t *testing.T) {
	backend := &mockBackend{sessionErr: errors.NewExternalError("visitor backend", "down")}
	c, _, _ := testCoordinator(t, backend, &fakeRequester{})

	session := c.GetSession(context.Background())

	assert.False(t, session.HasSession)
	assert.False(t, session.CookieConsent)
}

func TestHandleCookieConsentAccept(t *testing.T) {
	ctx := context.Background()
	backend := consentedBackend()
	requester := &fakeRequester{granted: true}
	c, flags, sink := testCoordinator(t, backend, requester)

	c.HandleCookieConsent(ctx, true, visitor.ClientMeta{UserAgent: "Mozilla/5.0", Path: "/"})

	consent, err := flags.GetBool(ctx, visitor.KeyCookieConsent)
	require.NoError(t, err)
	assert.True(t, consent)

	_, ok, err := flags.GetTime(ctx, visitor.KeyCookieConsentTimestamp)
	require.NoError(t, err)
	assert.True(t, ok)

	visitID, ok, err := flags.Get(ctx, visitor.KeyVisitorSessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "visit-1", visitID)

	require.Len(t, backend.tracked, 1)
	assert.True(t, backend.tracked[0].Consent)
	assert.Equal(t, "Mozilla/5.0", backend.tracked[0].UserAgent)

	// Initialize ran and scheduled the deferred location prompt
	require.Eventually(t, func() bool {
		return requester.requestCount() == 1
	}, time.Second, time.Millisecond)

	assert.Contains(t, sink.types(), EventConsentRecorded)
}

// Opt-out after a prior accept wipes every derived flag.
func TestHandleCookieConsentOptOutClearsState(t *testing.T) {
	ctx := context.Background()
	backend := consentedBackend()
	c, flags, _ := testCoordinator(t, backend, &fakeRequester{granted: true})

	c.HandleCookieConsent(ctx, true, visitor.ClientMeta{})
	c.Close() // stop the prompt timers so they cannot race the assertions
	require.NoError(t, flags.SetBool(ctx, visitor.KeyLocationPermissionRequested, true))
	require.NoError(t, flags.SetBool(ctx, visitor.KeyPhoneNumberCollected, true))
	require.NoError(t, flags.SetTime(ctx, visitor.KeyLastLocationUpdate, time.Now()))

	c.HandleCookieConsent(ctx, false, visitor.ClientMeta{})

	for _, key := range []string{
		visitor.KeyVisitorSessionID,
		visitor.KeyLocationPermissionRequested,
		visitor.KeyPhoneNumberCollected,
		visitor.KeyLastLocationUpdate,
	} {
		_, ok, err := flags.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "key %s should be cleared", key)
	}

	// the decision itself is kept so the decline is remembered
	consent, err := flags.GetBool(ctx, visitor.KeyCookieConsent)
	require.NoError(t, err)
	assert.False(t, consent)

	assert.False(t, c.IsLocationPermissionRequested())
	assert.False(t, c.IsPhoneNumberCollected())
}

func TestHandleCookieConsentTrackFailureDegrades(t *testing.T) {
	ctx := context.Background()
	backend := consentedBackend()
	backend.trackErr = errors.NewExternalError("visitor backend", "down")
	c, flags, _ := testCoordinator(t, backend, &fakeRequester{})

	c.HandleCookieConsent(ctx, true, visitor.ClientMeta{})

	_, ok, err := flags.Get(ctx, visitor.KeyVisitorSessionID)
	require.NoError(t, err)
	assert.False(t, ok)

	// the local decision still persisted
	consent, err := flags.GetBool(ctx, visitor.KeyCookieConsent)
	require.NoError(t, err)
	assert.True(t, consent)
}

func TestInitializeNoOpWithoutLocalConsent(t *testing.T) {
	backend := consentedBackend()
	c, _, _ := testCoordinator(t, backend, &fakeRequester{})

	c.Initialize(context.Background())

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Zero(t, backend.sessionCalls)
}

func TestInitializeNoOpWithoutBackendConsent(t *testing.T) {
	ctx := context.Background()
	backend := &mockBackend{session: visitor.VisitorSession{HasSession: true, CookieConsent: false}}
	requester := &fakeRequester{}
	c, flags, _ := testCoordinator(t, backend, requester)

	require.NoError(t, flags.SetBool(ctx, visitor.KeyCookieConsent, true))
	c.Initialize(ctx)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, requester.requestCount())
}

func TestInitializeSkipsPromptOnHardStop(t *testing.T) {
	ctx := context.Background()
	requester := &fakeRequester{}
	c, flags, _ := testCoordinator(t, consentedBackend(), requester)

	require.NoError(t, flags.SetBool(ctx, visitor.KeyCookieConsent, true))
	require.NoError(t, flags.SetBool(ctx, visitor.KeyLocationPermissionRequested, true))
	require.NoError(t, flags.Set(ctx, visitor.KeyLocationPermissionStatus, "denied"))

	c.Initialize(ctx)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, requester.requestCount())
}

// A stale grant triggers the refresh path, which rearms the single-shot
// guard before re-requesting.
func TestInitializeSchedulesRefreshForStaleGrant(t *testing.T) {
	ctx := context.Background()
	requester := &fakeRequester{granted: true}
	c, flags, _ := testCoordinator(t, consentedBackend(), requester)

	require.NoError(t, flags.SetBool(ctx, visitor.KeyCookieConsent, true))
	require.NoError(t, flags.SetBool(ctx, visitor.KeyLocationPermissionRequested, true))
	require.NoError(t, flags.Set(ctx, visitor.KeyLocationPermissionStatus, "granted"))
	require.NoError(t, flags.SetTime(ctx, visitor.KeyLastLocationUpdate, time.Now().Add(-2*time.Hour)))

	c.Initialize(ctx)

	require.Eventually(t, func() bool {
		return requester.requestCount() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, requester.rearmCount())
}

func TestInitializeFreshGrantNotRefreshed(t *testing.T) {
	ctx := context.Background()
	requester := &fakeRequester{granted: true}
	c, flags, _ := testCoordinator(t, consentedBackend(), requester)

	require.NoError(t, flags.SetBool(ctx, visitor.KeyCookieConsent, true))
	require.NoError(t, flags.SetBool(ctx, visitor.KeyLocationPermissionRequested, true))
	require.NoError(t, flags.Set(ctx, visitor.KeyLocationPermissionStatus, "granted"))
	require.NoError(t, flags.SetTime(ctx, visitor.KeyLastLocationUpdate, time.Now()))

	c.Initialize(ctx)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, requester.requestCount())
}

func TestInitializeSchedulesContactPrompt(t *testing.T) {
	ctx := context.Background()
	c, flags, sink := testCoordinator(t, consentedBackend(), &fakeRequester{})

	require.NoError(t, flags.SetBool(ctx, visitor.KeyCookieConsent, true))
	c.Initialize(ctx)

	require.Eventually(t, func() bool {
		for _, typ := range sink.types() {
			if typ == EventContactPrompt {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestUpdateContactFlipsFlag(t *testing.T) {
	ctx := context.Background()
	c, flags, _ := testCoordinator(t, consentedBackend(), &fakeRequester{})

	require.False(t, c.IsPhoneNumberCollected())

	ok := c.UpdateContact(ctx, visitor.ContactData{PhoneNumber: "+14155551234"})
	require.True(t, ok)

	assert.True(t, c.IsPhoneNumberCollected())
	collected, err := flags.GetBool(ctx, visitor.KeyPhoneNumberCollected)
	require.NoError(t, err)
	assert.True(t, collected)
}

func TestUpdateContactFailureKeepsFlag(t *testing.T) {
	backend := consentedBackend()
	backend.contactOK = false
	c, _, _ := testCoordinator(t, backend, &fakeRequester{})

	ok := c.UpdateContact(context.Background(), visitor.ContactData{PhoneNumber: "+14155551234"})

	assert.False(t, ok)
	assert.False(t, c.IsPhoneNumberCollected())
}

func TestMirrorsHydratedAtConstruction(t *testing.T) {
	ctx := context.Background()
	flags := flagstore.Scope(flagstore.NewMemoryStore(), "v1")
	require.NoError(t, flags.SetBool(ctx, visitor.KeyLocationPermissionRequested, true))
	require.NoError(t, flags.SetBool(ctx, visitor.KeyPhoneNumberCollected, true))

	c := NewCoordinator(ctx, zap.NewNop(), flags, consentedBackend(), &fakeRequester{}, nil, nil, Config{})
	t.Cleanup(c.Close)

	assert.True(t, c.IsLocationPermissionRequested())
	assert.True(t, c.IsPhoneNumberCollected())
}

func TestCloseStopsPendingTimers(t *testing.T) {
	ctx := context.Background()
	requester := &fakeRequester{}
	flags := flagstore.Scope(flagstore.NewMemoryStore(), "v1")
	c := NewCoordinator(ctx, zap.NewNop(), flags, consentedBackend(), requester, nil, nil,
		Config{LocationDelay: 20 * time.Millisecond, ContactDelay: 20 * time.Millisecond})

	require.NoError(t, flags.SetBool(ctx, visitor.KeyCookieConsent, true))
	c.Initialize(ctx)
	c.Close()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, requester.requestCount())
}

func TestFlowEntryState(t *testing.T) {
	ctx := context.Background()
	c, flags, _ := testCoordinator(t, consentedBackend(), &fakeRequester{})

	state := c.FlowEntryState(ctx)
	assert.False(t, state.ConsentRecorded)

	require.NoError(t, flags.SetBool(ctx, visitor.KeyCookieConsent, true))
	require.NoError(t, flags.SetBool(ctx, visitor.KeyLocationPermissionRequested, true))
	require.NoError(t, flags.Set(ctx, visitor.KeyLocationPermissionStatus, "granted"))

	state = c.FlowEntryState(ctx)
	assert.True(t, state.ConsentRecorded)
	assert.True(t, state.CookieConsent)
	assert.True(t, state.LocationRequested)
	assert.Equal(t, visitor.PermissionGranted, state.LocationStatus)

	step, visible := flow.Entry(state)
	assert.Equal(t, flow.StepCompleted, step)
	assert.False(t, visible)
}

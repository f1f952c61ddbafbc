// Package tracking hosts the consent/tracking session coordinator: the
// non-UI object mediating between persisted flags, the backend session, and
// the platform location capability.
package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/mahakalaqua/visitor-tracker/internal/domain/flow"
	"github.com/mahakalaqua/visitor-tracker/internal/domain/visitor"
	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/flagstore"
	"github.com/mahakalaqua/visitor-tracker/internal/metrics"
	"go.uber.org/zap"
)

// Config tunes the coordinator's prompt scheduling
type Config struct {
	// LocationDelay defers the location ask so it never blocks the first
	// render
	LocationDelay time.Duration
	// ContactDelay defers the contact nudge further still
	ContactDelay time.Duration
}

// Coordinator orchestrates the consent and tracking lifecycle for one
// visitor. It is explicitly constructed and dependency-injected; its two
// boolean mirrors are hydrated from the flag store at construction time and
// kept consistent with it after every mutation.
type Coordinator struct {
	logger   *zap.Logger
	flags    *flagstore.Flags
	backend  BackendClient
	location LocationRequester
	metrics  *metrics.Metrics
	events   EventSink
	cfg      Config

	mu                sync.Mutex
	locationRequested bool
	phoneCollected    bool
	timers            []*time.Timer
	closed            bool
}

// NewCoordinator creates a coordinator and hydrates its mirrors from the
// flag store. metrics and events may be nil.
func NewCoordinator(
	ctx context.Context,
	logger *zap.Logger,
	flags *flagstore.Flags,
	backend BackendClient,
	location LocationRequester,
	m *metrics.Metrics,
	events EventSink,
	cfg Config,
) *Coordinator {
	c := &Coordinator{
		logger:   logger,
		flags:    flags,
		backend:  backend,
		location: location,
		metrics:  m,
		events:   events,
		cfg:      cfg,
	}

	requested, err := flags.GetBool(ctx, visitor.KeyLocationPermissionRequested)
	if err != nil {
		logger.Warn("hydrating location flag failed", zap.Error(err))
	}
	collected, err := flags.GetBool(ctx, visitor.KeyPhoneNumberCollected)
	if err != nil {
		logger.Warn("hydrating contact flag failed", zap.Error(err))
	}
	c.locationRequested = requested
	c.phoneCollected = collected

	return c
}

// VisitorID returns the visitor this coordinator serves
func (c *Coordinator) VisitorID() string {
	return c.flags.VisitorID()
}

// GetSession fetches the backend's view of the visitor. Any failure returns
// the safe default: no session, no consent. Never errors.
func (c *Coordinator) GetSession(ctx context.Context) visitor.VisitorSession {
	session, err := c.backend.Session(ctx, c.sessionID(ctx))
	if err != nil {
		c.logger.Warn("session fetch failed, using safe default", zap.Error(err))
		c.observeBackendCall("session", false)
		return visitor.EmptySession()
	}
	c.observeBackendCall("session", true)
	return session
}

// HandleCookieConsent persists the decision, best-effort reports it to the
// backend, and on opt-out resets every derived flag. Accepting consent runs
// Initialize.
func (c *Coordinator) HandleCookieConsent(ctx context.Context, consent bool, meta visitor.ClientMeta) {
	if err := c.flags.SetBool(ctx, visitor.KeyCookieConsent, consent); err != nil {
		c.logger.Warn("persisting cookie consent failed", zap.Error(err))
	}
	if err := c.flags.SetTime(ctx, visitor.KeyCookieConsentTimestamp, time.Now()); err != nil {
		c.logger.Warn("persisting consent timestamp failed", zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.ObserveConsentDecision(consent)
	}

	// fire-and-forget from the UI's perspective; failures degrade silently
	visitID, err := c.backend.Track(ctx, c.sessionID(ctx), visitor.NewTrackRequest(consent, meta))
	if err != nil {
		c.logger.Warn("consent tracking failed", zap.Error(err))
		c.observeBackendCall("track", false)
	} else {
		c.observeBackendCall("track", true)
		if visitID != "" {
			if err := c.flags.Set(ctx, visitor.KeyVisitorSessionID, visitID); err != nil {
				c.logger.Warn("persisting visit id failed", zap.Error(err))
			}
		}
	}

	c.publish(Event{
		Type:      EventConsentRecorded,
		VisitorID: c.VisitorID(),
		Status:    decisionLabel(consent),
		Timestamp: time.Now(),
	})

	if !consent {
		c.reset(ctx)
		return
	}
	c.Initialize(ctx)
}

// Initialize restores the coordinator's mirrors and schedules the deferred
// prompts. It is a no-op unless both the local consent flag and the backend
// session agree that consent is recorded.
func (c *Coordinator) Initialize(ctx context.Context) {
	consented, err := c.flags.GetBool(ctx, visitor.KeyCookieConsent)
	if err != nil || !consented {
		return
	}

	session := c.GetSession(ctx)
	if !session.HasSession || !session.CookieConsent {
		return
	}

	requested, _ := c.flags.GetBool(ctx, visitor.KeyLocationPermissionRequested)
	collected, _ := c.flags.GetBool(ctx, visitor.KeyPhoneNumberCollected)
	c.mu.Lock()
	c.locationRequested = requested
	c.phoneCollected = collected
	c.mu.Unlock()

	c.scheduleLocationPrompt(ctx, requested)
	if !collected {
		c.schedule(c.cfg.ContactDelay, func() {
			c.publish(NewEvent(EventContactPrompt, c.VisitorID()))
		})
	}
}

// scheduleLocationPrompt decides between a first ask and a silent refresh
func (c *Coordinator) scheduleLocationPrompt(ctx context.Context, requested bool) {
	status := c.permissionStatus(ctx)

	switch {
	case !requested && !status.BlocksPrompt():
		c.schedule(c.cfg.LocationDelay, func() {
			c.RequestLocationPermission(context.Background())
		})
	case status == visitor.PermissionGranted && c.locationStale(ctx):
		// the refresh path deliberately bypasses the single-shot guard;
		// the guard only blocks concurrent attempts
		c.schedule(c.cfg.LocationDelay, func() {
			c.location.Rearm()
			c.RequestLocationPermission(context.Background())
		})
	}
}

// RequestLocationPermission runs one location permission attempt and keeps
// the in-memory mirror in step with the persisted flag.
func (c *Coordinator) RequestLocationPermission(ctx context.Context) bool {
	granted := c.location.RequestPermission(ctx, c.sessionID(ctx))

	c.mu.Lock()
	c.locationRequested = true
	c.mu.Unlock()

	c.publish(Event{
		Type:      EventLocationResolved,
		VisitorID: c.VisitorID(),
		Status:    c.permissionStatus(ctx).String(),
		Timestamp: time.Now(),
	})
	return granted
}

// MarkLocationSkipped records a skip/deny from the UI without prompting
func (c *Coordinator) MarkLocationSkipped(ctx context.Context) {
	if err := c.flags.SetBool(ctx, visitor.KeyLocationPermissionRequested, true); err != nil {
		c.logger.Warn("persisting requested flag failed", zap.Error(err))
	}
	c.mu.Lock()
	c.locationRequested = true
	c.mu.Unlock()
}

// UpdateLocation submits a location reading to the backend
func (c *Coordinator) UpdateLocation(ctx context.Context, data visitor.LocationData) bool {
	ok, err := c.backend.SubmitLocation(ctx, c.sessionID(ctx), data)
	if err != nil {
		c.logger.Warn("location update failed", zap.Error(err))
		c.observeBackendCall("location", false)
		return false
	}
	c.observeBackendCall("location", ok)
	return ok
}

// UpdateContact submits validated contact details; success flips and
// persists the collected flag.
func (c *Coordinator) UpdateContact(ctx context.Context, data visitor.ContactData) bool {
	ok, err := c.backend.SubmitContact(ctx, c.sessionID(ctx), data)
	if err != nil {
		c.logger.Warn("contact update failed", zap.Error(err))
	}
	success := err == nil && ok
	if c.metrics != nil {
		c.metrics.ObserveContactSubmission(success)
	}
	c.observeBackendCall("contact", success)
	if !success {
		return false
	}

	if err := c.flags.SetBool(ctx, visitor.KeyPhoneNumberCollected, true); err != nil {
		c.logger.Warn("persisting contact flag failed", zap.Error(err))
	}
	c.mu.Lock()
	c.phoneCollected = true
	c.mu.Unlock()
	return true
}

// IsLocationPermissionRequested reflects the in-memory mirror
func (c *Coordinator) IsLocationPermissionRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locationRequested
}

// IsPhoneNumberCollected reflects the in-memory mirror
func (c *Coordinator) IsPhoneNumberCollected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phoneCollected
}

// FlowEntryState reads the persisted state the flow entry decision needs
func (c *Coordinator) FlowEntryState(ctx context.Context) flow.EntryState {
	consentRaw, recorded, err := c.flags.Get(ctx, visitor.KeyCookieConsent)
	if err != nil {
		c.logger.Warn("reading consent flag failed", zap.Error(err))
	}
	requested, _ := c.flags.GetBool(ctx, visitor.KeyLocationPermissionRequested)

	return flow.EntryState{
		CookieConsent:     consentRaw == "true",
		ConsentRecorded:   recorded,
		LocationRequested: requested,
		LocationStatus:    c.permissionStatus(ctx),
	}
}

// Close stops every pending prompt timer so nothing fires on stale state
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
}

// reset clears every derived flag after an opt-out
func (c *Coordinator) reset(ctx context.Context) {
	for _, key := range visitor.DerivedFlagKeys {
		if err := c.flags.Remove(ctx, key); err != nil {
			c.logger.Warn("clearing flag failed",
				zap.String("key", key), zap.Error(err))
		}
	}
	c.mu.Lock()
	c.locationRequested = false
	c.phoneCollected = false
	c.mu.Unlock()
}

func (c *Coordinator) sessionID(ctx context.Context) string {
	id, _, err := c.flags.Get(ctx, visitor.KeyVisitorSessionID)
	if err != nil {
		c.logger.Warn("reading session id failed", zap.Error(err))
	}
	return id
}

func (c *Coordinator) permissionStatus(ctx context.Context) visitor.PermissionStatus {
	raw, ok, err := c.flags.Get(ctx, visitor.KeyLocationPermissionStatus)
	if err != nil || !ok {
		return ""
	}
	status, err := visitor.ParsePermissionStatus(raw)
	if err != nil {
		return ""
	}
	return status
}

func (c *Coordinator) locationStale(ctx context.Context) bool {
	last, ok, err := c.flags.GetTime(ctx, visitor.KeyLastLocationUpdate)
	if err != nil || !ok {
		return true
	}
	return visitor.IsStale(last, time.Now())
}

func (c *Coordinator) schedule(delay time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	t := time.AfterFunc(delay, func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		fn()
	})
	c.timers = append(c.timers, t)
}

func (c *Coordinator) publish(event Event) {
	if c.events != nil {
		c.events.Publish(event)
	}
}

func (c *Coordinator) observeBackendCall(call string, ok bool) {
	if c.metrics != nil {
		c.metrics.ObserveBackendCall(call, ok)
	}
}

func decisionLabel(consent bool) string {
	if consent {
		return "accepted"
	}
	return "declined"
}

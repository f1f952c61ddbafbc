// Package geolocation acquires device position with a permission pre-check,
// a provider-level timeout, and an independent watchdog, then normalizes
// every outcome into the fixed permission-status vocabulary.
package geolocation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mahakalaqua/visitor-tracker/internal/domain/visitor"
	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/flagstore"
	"go.uber.org/zap"
)

// Enricher augments a position with locality data, best-effort
type Enricher interface {
	Enrich(ctx context.Context, data *visitor.LocationData)
}

// Submitter delivers an acquired position to the backend
type Submitter interface {
	SubmitLocation(ctx context.Context, sessionID string, data visitor.LocationData) (bool, error)
}

// OutcomeRecorder observes terminal permission outcomes (metrics)
type OutcomeRecorder interface {
	ObservePermissionOutcome(status visitor.PermissionStatus)
}

// Config tunes the acquisition timeouts
type Config struct {
	HighAccuracy    bool
	RequestTimeout  time.Duration
	WatchdogTimeout time.Duration
	MaximumAge      time.Duration
}

// DefaultConfig returns the stock acquisition tuning
func DefaultConfig() Config {
	return Config{
		HighAccuracy:    true,
		RequestTimeout:  12 * time.Second,
		WatchdogTimeout: 15 * time.Second,
		MaximumAge:      5 * time.Minute,
	}
}

// Acquirer runs the location permission flow for one visitor. The in-memory
// requested guard makes RequestPermission single-shot per instance: a second
// call returns false immediately without touching the persisted status.
type Acquirer struct {
	provider PositionProvider
	enricher Enricher
	backend  Submitter
	flags    *flagstore.Flags
	recorder OutcomeRecorder
	logger   *zap.Logger
	cfg      Config

	mu        sync.Mutex
	requested bool
}

// NewAcquirer creates an acquirer for one visitor. provider may be nil when
// the runtime has no geolocation capability; recorder may be nil.
func NewAcquirer(
	provider PositionProvider,
	enricher Enricher,
	backend Submitter,
	flags *flagstore.Flags,
	recorder OutcomeRecorder,
	logger *zap.Logger,
	cfg Config,
) *Acquirer {
	return &Acquirer{
		provider: provider,
		enricher: enricher,
		backend:  backend,
		flags:    flags,
		recorder: recorder,
		logger:   logger,
		cfg:      cfg,
	}
}

// Requested reports whether a request has already run on this instance
func (a *Acquirer) Requested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requested
}

// Rearm clears the in-flight guard so a scheduled refresh can re-acquire a
// position after the freshness window lapses. It does not touch persisted
// state.
func (a *Acquirer) Rearm() {
	a.mu.Lock()
	a.requested = false
	a.mu.Unlock()
}

// RequestPermission runs one permission attempt. Exactly one terminal status
// is persisted per invocation; the return value is true only for a grant the
// backend accepted. The call may suspend for up to the watchdog timeout.
func (a *Acquirer) RequestPermission(ctx context.Context, sessionID string) bool {
	a.mu.Lock()
	if a.requested {
		a.mu.Unlock()
		return false
	}
	// guard set before any suspension point so it covers every exit path
	a.requested = true
	a.mu.Unlock()

	if a.provider == nil {
		a.persistStatus(ctx, visitor.PermissionUnsupported, "")
		return false
	}

	if state := a.provider.PermissionState(ctx); state == PermissionStateDenied {
		// known denial, do not raise the platform prompt
		a.persistStatus(ctx, visitor.PermissionDenied, "")
		return false
	}

	type result struct {
		pos Position
		err error
	}
	// buffered so a callback that outlives the watchdog does not leak the
	// goroutine
	resultCh := make(chan result, 1)

	go func() {
		pos, err := a.provider.Position(ctx, Options{
			HighAccuracy: a.cfg.HighAccuracy,
			Timeout:      a.cfg.RequestTimeout,
			MaximumAge:   a.cfg.MaximumAge,
		})
		resultCh <- result{pos: pos, err: err}
	}()

	watchdog := time.NewTimer(a.cfg.WatchdogTimeout)
	defer watchdog.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			status, msg := classifyError(res.err)
			a.persistStatus(ctx, status, msg)
			return false
		}
		return a.handlePosition(ctx, sessionID, res.pos)
	case <-watchdog.C:
		a.logger.Warn("location request watchdog fired",
			zap.Duration("timeout", a.cfg.WatchdogTimeout))
		a.persistStatus(ctx, visitor.PermissionTimeout, "watchdog timeout")
		return false
	}
}

func (a *Acquirer) handlePosition(ctx context.Context, sessionID string, pos Position) bool {
	data := visitor.LocationData{
		Latitude:  pos.Coordinate.Latitude(),
		Longitude: pos.Coordinate.Longitude(),
		Accuracy:  pos.Accuracy,
		Timezone:  pos.Timezone,
	}

	if a.enricher != nil {
		a.enricher.Enrich(ctx, &data)
	}

	accepted, err := a.backend.SubmitLocation(ctx, sessionID, data)
	if err != nil || !accepted {
		if err != nil {
			a.logger.Warn("location submission failed", zap.Error(err))
		}
		a.persistStatus(ctx, visitor.PermissionError, "backend rejected location")
		return false
	}

	a.persistStatus(ctx, visitor.PermissionGranted, "")
	if err := a.flags.SetTime(ctx, visitor.KeyLastLocationUpdate, time.Now()); err != nil {
		a.logger.Warn("persisting location timestamp failed", zap.Error(err))
	}
	if encoded, err := data.Encode(); err == nil {
		if err := a.flags.Set(ctx, visitor.KeyLastLocationData, encoded); err != nil {
			a.logger.Warn("persisting location data failed", zap.Error(err))
		}
	}
	return true
}

// persistStatus records the single terminal outcome of one attempt
func (a *Acquirer) persistStatus(ctx context.Context, status visitor.PermissionStatus, errMsg string) {
	if err := a.flags.SetBool(ctx, visitor.KeyLocationPermissionRequested, true); err != nil {
		a.logger.Warn("persisting requested flag failed", zap.Error(err))
	}
	if err := a.flags.Set(ctx, visitor.KeyLocationPermissionStatus, status.String()); err != nil {
		a.logger.Warn("persisting permission status failed", zap.Error(err))
	}
	if errMsg != "" {
		if err := a.flags.Set(ctx, visitor.KeyLocationPermissionError, errMsg); err != nil {
			a.logger.Warn("persisting permission error failed", zap.Error(err))
		}
	}
	if a.recorder != nil {
		a.recorder.ObservePermissionOutcome(status)
	}
	a.logger.Info("location permission resolved",
		zap.String("status", status.String()))
}

// classifyError maps provider failures onto the status vocabulary
func classifyError(err error) (visitor.PermissionStatus, string) {
	var posErr *PositionError
	if errors.As(err, &posErr) {
		switch posErr.Code {
		case ErrPermissionDenied:
			return visitor.PermissionDenied, posErr.Message
		case ErrPositionUnavailable:
			return visitor.PermissionUnavailable, posErr.Message
		case ErrTimeout:
			return visitor.PermissionTimeout, posErr.Message
		}
	}
	return visitor.PermissionError, err.Error()
}

package geolocation

import (
	"context"
	"fmt"
	"time"

	"github.com/mahakalaqua/visitor-tracker/internal/domain/values"
)

// PermissionState is the provider's answer to a permission pre-check,
// queried before prompting so a known denial never raises a dialog.
type PermissionState string

const (
	PermissionStateGranted PermissionState = "granted"
	PermissionStateDenied  PermissionState = "denied"
	PermissionStatePrompt  PermissionState = "prompt"
	PermissionStateUnknown PermissionState = "unknown"
)

// Position is one platform position fix
type Position struct {
	Coordinate values.Coordinate
	Accuracy   float64
	Timezone   string
	ReadAt     time.Time
}

// Options tunes a position request
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// ErrorCode classifies provider failures
type ErrorCode int

const (
	ErrPermissionDenied ErrorCode = iota + 1
	ErrPositionUnavailable
	ErrTimeout
)

// PositionError is a classified provider failure. The human-readable message
// is persisted separately for diagnostics.
type PositionError struct {
	Code    ErrorCode
	Message string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position error %d: %s", e.Code, e.Message)
}

// PositionProvider is the platform geolocation capability. A nil provider
// means the runtime has no geolocation at all.
type PositionProvider interface {
	// PermissionState reports the current permission without prompting.
	// Providers that cannot pre-check return PermissionStateUnknown.
	PermissionState(ctx context.Context) PermissionState

	// Position requests a fix. It may block up to opts.Timeout and may
	// serve a cached fix no older than opts.MaximumAge.
	Position(ctx context.Context, opts Options) (Position, error)
}

// StaticProvider serves a fixed coordinate. Used for kiosk and booth
// installs where the device never moves.
type StaticProvider struct {
	coordinate values.Coordinate
	accuracy   float64
}

// NewStaticProvider creates a provider pinned to one coordinate
func NewStaticProvider(coordinate values.Coordinate, accuracy float64) *StaticProvider {
	return &StaticProvider{coordinate: coordinate, accuracy: accuracy}
}

// PermissionState always reports granted for a static install
func (p *StaticProvider) PermissionState(ctx context.Context) PermissionState {
	return PermissionStateGranted
}

// Position returns the pinned coordinate
func (p *StaticProvider) Position(ctx context.Context, opts Options) (Position, error) {
	return Position{
		Coordinate: p.coordinate,
		Accuracy:   p.accuracy,
		Timezone:   time.Local.String(),
		ReadAt:     time.Now(),
	}, nil
}

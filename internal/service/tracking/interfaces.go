package tracking

import (
	"context"

	"github.com/mahakalaqua/visitor-tracker/internal/domain/visitor"
)

// BackendClient is the visitor API surface the coordinator consumes
type BackendClient interface {
	Session(ctx context.Context, sessionID string) (visitor.VisitorSession, error)
	Track(ctx context.Context, sessionID string, req visitor.TrackRequest) (string, error)
	SubmitLocation(ctx context.Context, sessionID string, data visitor.LocationData) (bool, error)
	SubmitContact(ctx context.Context, sessionID string, data visitor.ContactData) (bool, error)
}

// LocationRequester runs the location permission flow
type LocationRequester interface {
	RequestPermission(ctx context.Context, sessionID string) bool
	Requested() bool
	Rearm()
}

// EventSink receives flow events for delivery to UI clients. Publishing must
// not block the coordinator.
type EventSink interface {
	Publish(event Event)
}

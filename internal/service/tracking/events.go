package tracking

import "time"

// EventType names a flow event delivered to UI clients
type EventType string

const (
	// EventConsentRecorded fires after a cookie consent decision persists
	EventConsentRecorded EventType = "consent.recorded"
	// EventLocationResolved fires when a permission attempt reaches a
	// terminal status
	EventLocationResolved EventType = "location.resolved"
	// EventContactPrompt nudges the UI to show the contact modal
	EventContactPrompt EventType = "contact.prompt"
	// EventFlowCompleted fires once when the consent flow finishes
	EventFlowCompleted EventType = "flow.completed"
)

// Event is one flow event
type Event struct {
	Type      EventType `json:"type"`
	VisitorID string    `json:"visitorId"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event with the current time
func NewEvent(t EventType, visitorID string) Event {
	return Event{Type: t, VisitorID: visitorID, Timestamp: time.Now()}
}

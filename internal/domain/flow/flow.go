// Package flow models the consent prompt sequence as an explicit
// finite-state machine: cookie -> location -> completed, strictly forward,
// unit-testable without any UI attached.
package flow

import (
	"fmt"
	"sync"
	"time"

	"github.com/mahakalaqua/visitor-tracker/internal/domain/visitor"
)

// Step is one stage of the consent flow
type Step string

const (
	StepCookie    Step = "cookie"
	StepLocation  Step = "location"
	StepCompleted Step = "completed"
)

// String returns the string representation of the step
func (s Step) String() string {
	return string(s)
}

// Event is a user action driving the flow forward
type Event string

const (
	EventAcceptCookies  Event = "accept_cookies"
	EventDeclineCookies Event = "decline_cookies"
	EventAllowLocation  Event = "allow_location"
	EventSkipLocation   Event = "skip_location"
)

// HideDelay is how long the completed step stays visible before the flow
// hides itself.
const HideDelay = 1500 * time.Millisecond

// Transition is the pure transition function. Every edge moves forward;
// there are no cycles and no way back.
func Transition(s Step, e Event) (Step, error) {
	switch s {
	case StepCookie:
		switch e {
		case EventAcceptCookies:
			return StepLocation, nil
		case EventDeclineCookies:
			// declining cookies skips the location ask entirely
			return StepCompleted, nil
		}
	case StepLocation:
		switch e {
		case EventAllowLocation, EventSkipLocation:
			// the flow advances regardless of the acquisition outcome
			return StepCompleted, nil
		}
	case StepCompleted:
		// terminal
	}
	return s, fmt.Errorf("invalid transition: %s on %s", e, s)
}

// EntryState is the persisted consent state the entry decision reads
type EntryState struct {
	CookieConsent     bool
	ConsentRecorded   bool
	LocationRequested bool
	LocationStatus    visitor.PermissionStatus
}

// Entry computes the starting step for a newly mounted flow and whether the
// flow should be shown at all. Re-running it is idempotent: steps already
// resolved are never replayed.
func Entry(s EntryState) (Step, bool) {
	if !s.ConsentRecorded || !s.CookieConsent {
		// unset or an explicit prior decline both re-show the cookie step
		return StepCookie, true
	}
	if s.LocationRequested || s.LocationStatus.BlocksPrompt() {
		return StepCompleted, false
	}
	return StepLocation, true
}

// Flow is one live flow instance: a current step plus a one-shot completion
// callback fired when the terminal step is reached.
type Flow struct {
	mu         sync.Mutex
	step       Step
	visible    bool
	onComplete func()
	notified   bool
}

// New creates a flow instance positioned by the entry decision
func New(state EntryState, onComplete func()) *Flow {
	step, visible := Entry(state)
	f := &Flow{step: step, visible: visible, onComplete: onComplete}
	if step == StepCompleted {
		// already resolved on a prior visit; do not fire the callback
		f.notified = true
	}
	return f
}

// Step returns the current step
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Visible reports whether the flow should currently render
func (f *Flow) Visible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

// Apply advances the flow by one event. Reaching the terminal step fires the
// completion callback exactly once.
func (f *Flow) Apply(e Event) (Step, error) {
	f.mu.Lock()
	next, err := Transition(f.step, e)
	if err != nil {
		f.mu.Unlock()
		return f.step, err
	}
	f.step = next
	fire := next == StepCompleted && !f.notified
	if fire {
		f.notified = true
	}
	cb := f.onComplete
	f.mu.Unlock()

	if fire && cb != nil {
		cb()
	}
	return next, nil
}

// Hide marks the flow hidden after the completed step's display delay
func (f *Flow) Hide() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step == StepCompleted {
		f.visible = false
	}
}

package visitor

import "time"

// VisitorSession is the backend's view of a visitor. It is created by the
// backend on first consent submission and read-only to this service; the
// only way to change it is a round-trip through the tracking API.
type VisitorSession struct {
	HasSession    bool    `json:"hasSession"`
	VisitID       *string `json:"visitId"`
	CookieConsent bool    `json:"cookieConsent"`
	SessionID     string  `json:"sessionId"`
}

// EmptySession is the safe default returned when the backend cannot be
// reached: no session, no consent.
func EmptySession() VisitorSession {
	return VisitorSession{HasSession: false, CookieConsent: false}
}

// TrackRequest reports a consent decision plus basic client metadata
type TrackRequest struct {
	Consent   bool   `json:"consent"`
	Timestamp int64  `json:"timestamp"`
	UserAgent string `json:"userAgent"`
	Language  string `json:"language"`
	Path      string `json:"path"`
	Referrer  string `json:"referrer"`
}

// TrackResponse carries the visit id minted by the backend, if any
type TrackResponse struct {
	VisitID string `json:"visitId,omitempty"`
}

// NewTrackRequest builds a track payload stamped with the current time
func NewTrackRequest(consent bool, meta ClientMeta) TrackRequest {
	return TrackRequest{
		Consent:   consent,
		Timestamp: time.Now().UnixMilli(),
		UserAgent: meta.UserAgent,
		Language:  meta.Language,
		Path:      meta.Path,
		Referrer:  meta.Referrer,
	}
}

// ClientMeta is the per-request client context forwarded with tracking calls
type ClientMeta struct {
	UserAgent string `json:"userAgent"`
	Language  string `json:"language"`
	Path      string `json:"path"`
	Referrer  string `json:"referrer"`
}

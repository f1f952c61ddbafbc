package visitor

import (
	"encoding/json"
	"fmt"
	"time"
)

// PermissionStatus is the terminal outcome of a location permission attempt.
// It is only meaningful once a request has actually been made.
type PermissionStatus string

const (
	PermissionGranted     PermissionStatus = "granted"
	PermissionDenied      PermissionStatus = "denied"
	PermissionUnsupported PermissionStatus = "unsupported"
	PermissionTimeout     PermissionStatus = "timeout"
	PermissionUnavailable PermissionStatus = "unavailable"
	PermissionError       PermissionStatus = "error"
)

// String returns the string representation of the status
func (s PermissionStatus) String() string {
	return string(s)
}

// BlocksPrompt reports whether this outcome rules out any further automatic
// prompting. Timeouts and transient unavailability stay eligible for the
// hourly refresh path; a denial, platform absence, or hard error does not.
func (s PermissionStatus) BlocksPrompt() bool {
	switch s {
	case PermissionDenied, PermissionError, PermissionUnsupported:
		return true
	default:
		return false
	}
}

// ParsePermissionStatus parses a stored status string
func ParsePermissionStatus(s string) (PermissionStatus, error) {
	switch PermissionStatus(s) {
	case PermissionGranted, PermissionDenied, PermissionUnsupported,
		PermissionTimeout, PermissionUnavailable, PermissionError:
		return PermissionStatus(s), nil
	default:
		return "", fmt.Errorf("invalid permission status: %q", s)
	}
}

// LocationFreshness is how long an acquired position stays fresh before the
// coordinator schedules a silent re-acquisition.
const LocationFreshness = time.Hour

// LocationData is one successful geolocation read, optionally enriched with
// reverse-geocoded address fields before submission.
type LocationData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Address   string  `json:"address,omitempty"`
	City      string  `json:"city,omitempty"`
	State     string  `json:"state,omitempty"`
	Country   string  `json:"country,omitempty"`
	Timezone  string  `json:"timezone"`
}

// Encode serializes the location for flag-store persistence
func (l LocationData) Encode() (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeLocationData parses a persisted location blob
func DecodeLocationData(s string) (LocationData, error) {
	var l LocationData
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return LocationData{}, fmt.Errorf("decoding location data: %w", err)
	}
	return l, nil
}

// IsStale reports whether a location acquired at the given time needs
// re-acquisition.
func IsStale(acquiredAt time.Time, now time.Time) bool {
	return now.Sub(acquiredAt) > LocationFreshness
}

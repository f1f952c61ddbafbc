package visitor

// Flag-store keys. These survive restarts and are the sole source of truth
// for "have we already asked" decisions, so a returning visitor is never
// re-prompted for something they already answered.
const (
	KeyCookieConsent               = "cookieConsent"
	KeyCookieConsentTimestamp      = "cookieConsentTimestamp"
	KeyLocationPermissionRequested = "locationPermissionRequested"
	KeyLocationPermissionStatus    = "locationPermissionStatus"
	KeyLocationPermissionError     = "locationPermissionError"
	KeyLastLocationUpdate          = "lastLocationUpdate"
	KeyLastLocationData            = "lastLocationData"
	KeyPhoneNumberCollected        = "phoneNumberCollected"
	KeyVisitorSessionID            = "visitorSessionId"
)

// DerivedFlagKeys are the keys cleared wholesale when cookie consent is
// revoked. The consent decision itself is kept so an explicit decline is
// remembered.
var DerivedFlagKeys = []string{
	KeyVisitorSessionID,
	KeyLocationPermissionRequested,
	KeyLocationPermissionStatus,
	KeyLocationPermissionError,
	KeyLastLocationUpdate,
	KeyLastLocationData,
	KeyPhoneNumberCollected,
}

package domain

import "time"

// TokenRecord holds the credentials returned by the authorization server.
// It is replaced wholesale on every successful exchange and never patched.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IsValid reports whether the access token is present and not yet expired at now.
func (r TokenRecord) IsValid(now time.Time) bool {
	return r.AccessToken != "" && now.Before(r.ExpiresAt)
}

// DeviceCode is the transient state of a pending device authorization:
// the code pair shown to the user and the instant after which it is dead.
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURL string
	// Interval is the polling cadence suggested by the server; zero means
	// the server did not send one.
	Interval  time.Duration
	ExpiresAt time.Time
}

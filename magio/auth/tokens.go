package auth

import (
	"fmt"
	"time"
)

// TokenSet holds the upstream session credentials. The JSON layout matches
// the on-disk token file, with expiry stored as a unix timestamp in seconds.
// A zero TokenSet is the valid logged-out state.
type TokenSet struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	Expires      float64 `json:"expires"`
	DeviceID     string  `json:"device_id"`
}

// ExpiresAt returns the access token expiry as a time.Time.
func (t TokenSet) ExpiresAt() time.Time {
	sec := int64(t.Expires)
	nsec := int64((t.Expires - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// ValidFor reports whether the access token is usable at now and will remain
// usable for at least margin. A TokenSet without an access token is never
// valid regardless of its expiry.
func (t TokenSet) ValidFor(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt().After(now.Add(margin))
}

// IsZero reports the logged-out state.
func (t TokenSet) IsZero() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// FormatRemaining renders a duration in the coarsest non-zero unit pair,
// e.g. "2h 3m", "3m 4s" or "5s". Non-positive durations render as "expired".
func FormatRemaining(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds <= 0 {
		return "expired"
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	seconds = seconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

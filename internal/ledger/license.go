package ledger

import "time"

// Status is the derived license state. It is never stored; the expiry
// timestamp is the single source of truth.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Active reports whether the status grants access to gated features.
func (s Status) Active() bool {
	return s == StatusActive
}

// LicenseStatus derives the license state from an expiry timestamp.
// An absent expiry or one at or before now is Inactive; only a strictly
// future expiry is Active.
func LicenseStatus(expiry *time.Time, now time.Time) Status {
	if expiry == nil {
		return StatusInactive
	}
	if expiry.After(now) {
		return StatusActive
	}
	return StatusInactive
}

package ledger

import "time"

// Account is the durable per-user entitlement record.
// Credits never go negative and LicenseExpiry only moves forward.
type Account struct {
	ID            string     `json:"id"`
	Credits       int64      `json:"credits"`
	LicenseExpiry *time.Time `json:"license_expiry,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (a Account) clone() Account {
	out := a
	if a.LicenseExpiry != nil {
		expiry := *a.LicenseExpiry
		out.LicenseExpiry = &expiry
	}
	return out
}

// Snapshot is the read-only view handed to the command surface.
type Snapshot struct {
	ID            string     `json:"id"`
	Credits       int64      `json:"credits"`
	LicenseStatus Status     `json:"license_status"`
	LicenseExpiry *time.Time `json:"license_expiry,omitempty"`
}

// Stats aggregates the ledger for admin reporting.
type Stats struct {
	Accounts       int   `json:"accounts"`
	TotalCredits   int64 `json:"total_credits"`
	ActiveLicenses int   `json:"active_licenses"`
}

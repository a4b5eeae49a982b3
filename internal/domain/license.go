package domain

import "time"

// ValidationStatus is the outcome of checking a hwid against the store.
// The string values are the exact status codes served by the /check endpoint.
type ValidationStatus string

const (
	StatusInvalid    ValidationStatus = "invalid"
	StatusExpired    ValidationStatus = "expired"
	StatusValid      ValidationStatus = "valid"
	StatusIPMismatch ValidationStatus = "ip_mismatch"
)

// LicenseRecord is one VIP entitlement. There is at most one live record per
// subject; reissuing replaces the row and invalidates the previous hwid.
type LicenseRecord struct {
	SubjectID        uint64     `gorm:"primaryKey" json:"subject_id"`
	HWID             string     `gorm:"column:hwid;size:64;uniqueIndex;not null" json:"hwid"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expires_at"`
	BoundIP          *string    `gorm:"size:64" json:"bound_ip,omitempty"`
	ResetCount       int        `gorm:"not null;default:0" json:"reset_count"`
	ResetWindowStart *time.Time `json:"reset_window_start,omitempty"`
	NoticeSent       bool       `gorm:"not null;default:false" json:"notice_sent"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Expired reports whether the record is past its expiry at the given instant.
// The record is still valid at the exact expiry instant.
func (r *LicenseRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ValidationResult carries the status of a hwid check plus the expiry the
// check endpoint echoes back on valid responses.
type ValidationResult struct {
	Status    ValidationStatus
	ExpiresAt time.Time
}

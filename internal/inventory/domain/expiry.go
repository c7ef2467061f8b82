package domain

import "time"

// ExpiryState classifies a batch relative to the current time.
type ExpiryState string

const (
	ExpiryOK           ExpiryState = "ok"
	ExpiryExpiringSoon ExpiryState = "expiring_soon"
	ExpiryExpired      ExpiryState = "expired"
)

// DefaultExpiryWindowDays is the expiring-soon horizon.
const DefaultExpiryWindowDays = 30

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ClassifyExpiry compares instants: a batch is expired once its expiry time
// is before now, and expiring soon while it falls within windowDays of now.
// Expired takes precedence.
func ClassifyExpiry(expiry, now time.Time, windowDays int) ExpiryState {
	switch {
	case expiry.Before(now):
		return ExpiryExpired
	case !expiry.After(now.AddDate(0, 0, windowDays)):
		return ExpiryExpiringSoon
	default:
		return ExpiryOK
	}
}

// IsExpired reports whether the batch may no longer be dispensed.
func IsExpired(expiry, now time.Time) bool {
	return expiry.Before(now)
}

// IsLowStock reports whether current stock has reached the reorder point.
func IsLowStock(current, reorderPoint int) bool {
	return current <= reorderPoint
}

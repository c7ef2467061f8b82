package domain

// AlertType is the condition an alert reports
type AlertType string

const (
	AlertLowStock     AlertType = "low_stock"
	AlertExpiringSoon AlertType = "expiring_soon"
	AlertExpired      AlertType = "expired"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertLowStock, AlertExpiringSoon, AlertExpired:
		return true
	}
	return false
}

// Severity ranks alert types; expired outranks expiring_soon.
func (t AlertType) Severity() string {
	switch t {
	case AlertExpired:
		return "critical"
	case AlertLowStock:
		return "high"
	default:
		return "medium"
	}
}

// AlertKey identifies the condition an open alert stands for. BatchNumber is
// empty for low_stock alerts.
type AlertKey struct {
	Type        AlertType
	ItemID      string
	BatchNumber string
}

// ExpiryAlertType maps an expiry state to the alert it warrants, if any.
func ExpiryAlertType(state ExpiryState) (AlertType, bool) {
	switch state {
	case ExpiryExpired:
		return AlertExpired, true
	case ExpiryExpiringSoon:
		return AlertExpiringSoon, true
	default:
		return "", false
	}
}

package domain

// MovementType classifies a ledger entry.
type MovementType string

const (
	MovementReceipt     MovementType = "receipt"
	MovementConsumption MovementType = "consumption"
	MovementAdjustment  MovementType = "adjustment"
)

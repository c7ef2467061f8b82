package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document number prefixes
const (
	PurchaseOrderPrefix = "PO"
	GoodsReceiptPrefix  = "GR"
)

// DocumentNumber returns a human-readable number such as PO-20261017-1A2B3C4D.
func DocumentNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return prefix + "-" + at.UTC().Format("20060102") + "-" + suffix
}

// Package permissions checks permission strings with wildcard support.
//
// Permission Format:
//   - "*" - Full access
//   - "inventory.*" - All inventory actions
//   - "inventory.receive" - Specific action
//   - "inventory.alerts.manage" - Nested permission
package permissions

import "strings"

// Inventory permissions
const (
	InventoryRead         = "inventory.read"
	InventoryWrite        = "inventory.write"
	InventoryReceive      = "inventory.receive"
	InventoryAdjust       = "inventory.adjust"
	InventoryAlertsManage = "inventory.alerts.manage"
)

// HasPermission reports whether userPerms grants required.
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range userPerms {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks if the user has any of the required permissions.
func HasAnyPermission(userPerms []string, required []string) bool {
	for _, req := range required {
		if HasPermission(userPerms, req) {
			return true
		}
	}
	return false
}

package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name     string
		perms    []string
		required string
		want     bool
	}{
		{"empty requirement", nil, "", true},
		{"full access", []string{"*"}, InventoryReceive, true},
		{"exact match", []string{InventoryRead}, InventoryRead, true},
		{"resource wildcard", []string{"inventory.*"}, InventoryAlertsManage, true},
		{"nested wildcard", []string{"inventory.alerts.*"}, InventoryAlertsManage, true},
		{"nested wildcard does not widen", []string{"inventory.alerts.*"}, InventoryWrite, false},
		{"other resource", []string{"staff.*"}, InventoryRead, false},
		{"prefix is not a wildcard", []string{"inventory"}, InventoryRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.perms, tt.required))
		})
	}
}

func TestHasAnyPermission(t *testing.T) {
	assert.True(t, HasAnyPermission([]string{InventoryAdjust}, []string{InventoryWrite, InventoryAdjust}))
	assert.False(t, HasAnyPermission([]string{InventoryRead}, []string{InventoryWrite, InventoryAdjust}))
}

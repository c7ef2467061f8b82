package service

import (
	"context"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
)

// stockSnapshot is the catalog and stocked batches as read by one alert
// evaluation or valuation. Both classify through the same methods.
type stockSnapshot struct {
	items   map[string]*repository.InventoryItem
	order   []*repository.InventoryItem
	batches []*repository.StockBatch
	now     time.Time
	window  int
}

func loadSnapshot(ctx context.Context, deps Deps) (*stockSnapshot, error) {
	items, err := deps.Items.All(ctx, true)
	if err != nil {
		return nil, err
	}
	batches, err := deps.Batches.ListWithStock(ctx)
	if err != nil {
		return nil, err
	}

	snap := &stockSnapshot{
		items:   make(map[string]*repository.InventoryItem, len(items)),
		order:   items,
		batches: batches,
		now:     deps.Now(),
		window:  deps.Config.ExpiryWindowDays,
	}
	for _, item := range items {
		item.IsLowStock = domain.IsLowStock(item.CurrentStock, item.ReorderPoint)
		snap.items[item.ID] = item
	}
	return snap, nil
}

func (s *stockSnapshot) activeItems() []*repository.InventoryItem {
	active := make([]*repository.InventoryItem, 0, len(s.order))
	for _, item := range s.order {
		if item.IsActive {
			active = append(active, item)
		}
	}
	return active
}

func (s *stockSnapshot) isActive(itemID string) bool {
	item, ok := s.items[itemID]
	return ok && item.IsActive
}

// stockedBatches returns batches with stock that belong to active items.
func (s *stockSnapshot) stockedBatches() []*repository.StockBatch {
	stocked := make([]*repository.StockBatch, 0, len(s.batches))
	for _, b := range s.batches {
		if b.QuantityAvailable > 0 && s.isActive(b.ItemID) {
			stocked = append(stocked, b)
		}
	}
	return stocked
}

func (s *stockSnapshot) expiry(b *repository.StockBatch) domain.ExpiryState {
	return domain.ClassifyExpiry(b.ExpiryDate, s.now, s.window)
}

// hasBatch reports whether the item still holds stock in the numbered batch.
func (s *stockSnapshot) hasBatch(itemID, batchNumber string) bool {
	for _, b := range s.batches {
		if b.ItemID == itemID && b.BatchNumber == batchNumber && b.QuantityAvailable > 0 {
			return true
		}
	}
	return false
}

package domain

import (
	"sort"
	"time"
)

// Lot is a batch as seen by the allocator.
type Lot struct {
	BatchID     string
	BatchNumber string
	ExpiryDate  time.Time
	Available   int
}

// Allocation is the quantity taken from one lot.
type Allocation struct {
	BatchID     string `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    int    `json:"quantity"`
	Remaining   int    `json:"remaining"`
}

// ShortageError reports that the lots cannot cover a request.
type ShortageError struct {
	Requested int
	Available int
}

func (e *ShortageError) Error() string {
	return "insufficient stock"
}

// AllocateFEFO draws quantity from lots in first-expiry-first-out order.
// Ties on expiry date fall back to batch number. Lots with nothing available
// are skipped. The allocation is all-or-nothing: when the lots hold less than
// quantity, nil and a *ShortageError are returned.
func AllocateFEFO(lots []Lot, quantity int) ([]Allocation, error) {
	ordered := make([]Lot, 0, len(lots))
	total := 0
	for _, l := range lots {
		if l.Available <= 0 {
			continue
		}
		ordered = append(ordered, l)
		total += l.Available
	}

	if quantity > total {
		return nil, &ShortageError{Requested: quantity, Available: total}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].ExpiryDate.Equal(ordered[j].ExpiryDate) {
			return ordered[i].ExpiryDate.Before(ordered[j].ExpiryDate)
		}
		return ordered[i].BatchNumber < ordered[j].BatchNumber
	})

	var allocations []Allocation
	left := quantity
	for _, l := range ordered {
		if left == 0 {
			break
		}
		take := l.Available
		if take > left {
			take = left
		}
		allocations = append(allocations, Allocation{
			BatchID:     l.BatchID,
			BatchNumber: l.BatchNumber,
			Quantity:    take,
			Remaining:   l.Available - take,
		})
		left -= take
	}

	return allocations, nil
}

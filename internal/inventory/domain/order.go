package domain

// OrderStatus is the lifecycle state of a purchase order
type OrderStatus string

const (
	OrderDraft             OrderStatus = "draft"
	OrderOrdered           OrderStatus = "ordered"
	OrderPartiallyReceived OrderStatus = "partially_received"
	OrderReceived          OrderStatus = "received"
	OrderCancelled         OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderDraft:             {OrderOrdered, OrderCancelled},
	OrderOrdered:           {OrderPartiallyReceived, OrderReceived, OrderCancelled},
	OrderPartiallyReceived: {OrderPartiallyReceived, OrderReceived},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderDraft, OrderOrdered, OrderPartiallyReceived, OrderReceived, OrderCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s -> next.
// received and cancelled are terminal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsReceivable reports whether goods may be received against the order.
func (s OrderStatus) IsReceivable() bool {
	return s == OrderOrdered || s == OrderPartiallyReceived
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderReceived || s == OrderCancelled
}

// IsOpen reports whether order lines still count as pending demand.
func (s OrderStatus) IsOpen() bool {
	return s == OrderDraft || s == OrderOrdered || s == OrderPartiallyReceived
}

// LineProgress is the ordered and received quantity of one order line.
type LineProgress struct {
	Ordered  int
	Received int
}

// Remaining returns the quantity still expected on the line.
func (l LineProgress) Remaining() int {
	return l.Ordered - l.Received
}

// DeriveOrderStatus computes the status of a receivable order from its lines:
// received when every line is complete, partially_received when anything has
// arrived, ordered otherwise. A partial quantity on any line counts as arrived,
// even when no line is complete yet.
func DeriveOrderStatus(lines []LineProgress) OrderStatus {
	if len(lines) == 0 {
		return OrderOrdered
	}

	complete, touched := 0, 0
	for _, l := range lines {
		if l.Received >= l.Ordered {
			complete++
		}
		if l.Received > 0 {
			touched++
		}
	}

	switch {
	case complete == len(lines):
		return OrderReceived
	case touched > 0:
		return OrderPartiallyReceived
	default:
		return OrderOrdered
	}
}

package core

import (
	"time"

	"github.com/google/uuid"
)

type ReliabilityEventKind string

const (
	EventLateDelivery   ReliabilityEventKind = "LATE_DELIVERY"
	EventEmergencyOrder ReliabilityEventKind = "EMERGENCY_ORDER"
)

// ReliabilityEvent is one historical signal attributed to a (product, location) pair:
// a DELIVERY_LATE alert on an order carrying the product, or an emergency order item.
type ReliabilityEvent struct {
	Kind       ReliabilityEventKind
	ProductID  uuid.UUID
	LocationID uuid.UUID
	OccurredAt time.Time
}

type ReliabilityCounts struct {
	LateDeliveries  int `json:"late_deliveries"`
	EmergencyOrders int `json:"emergency_orders"`
}

type itemKey struct {
	productID  uuid.UUID
	locationID uuid.UUID
}

// ReliabilityTracker answers per-item history counts for one run. The history is fetched
// once and filtered here rather than queried per rule.
type ReliabilityTracker struct {
	counts map[itemKey]ReliabilityCounts
}

// NewReliabilityTracker keeps events that occurred in (now-window, now].
func NewReliabilityTracker(events []ReliabilityEvent, now time.Time, window time.Duration) *ReliabilityTracker {
	cutoff := now.Add(-window)
	t := &ReliabilityTracker{counts: make(map[itemKey]ReliabilityCounts)}
	for _, e := range events {
		if !e.OccurredAt.After(cutoff) || e.OccurredAt.After(now) {
			continue
		}
		k := itemKey{productID: e.ProductID, locationID: e.LocationID}
		c := t.counts[k]
		switch e.Kind {
		case EventLateDelivery:
			c.LateDeliveries++
		case EventEmergencyOrder:
			c.EmergencyOrders++
		default:
			continue
		}
		t.counts[k] = c
	}
	return t
}

func (t *ReliabilityTracker) Counts(productID, locationID uuid.UUID) ReliabilityCounts {
	return t.counts[itemKey{productID: productID, locationID: locationID}]
}

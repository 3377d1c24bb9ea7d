package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RuleStore reads active reorder rules joined with the current stock and usage snapshot.
type RuleStore interface {
	// ListReorderCandidates returns active rules, optionally scoped to one organization.
	ListReorderCandidates(ctx context.Context, orgID *uuid.UUID) ([]ReorderCandidate, error)
}

// ReliabilityStore returns the raw history behind reliability counts.
type ReliabilityStore interface {
	ListReliabilityEvents(ctx context.Context, orgID *uuid.UUID, since time.Time) ([]ReliabilityEvent, error)
}

// OrderStore reads and writes purchase orders.
type OrderStore interface {
	// HasOpenOrder reports whether a DRAFT or SENT order containing productID was created for
	// the organization at or after since.
	HasOpenOrder(ctx context.Context, orgID, productID uuid.UUID, since time.Time) (bool, error)
	// CreateEngineOrder writes the order header, its single item, the audit entry and the optional
	// draft alert in one transaction.
	CreateEngineOrder(ctx context.Context, in EngineOrderInput) (*PurchaseOrder, error)
	// RecordSendResult stores the notifier outcome on the order. A nil sendErr clears send_error.
	RecordSendResult(ctx context.Context, orderID uuid.UUID, sendErr error) error
	ListOpenSentOrders(ctx context.Context) ([]OpenOrder, error)
	GetOrderForNotification(ctx context.Context, orderID uuid.UUID) (*OrderNotification, error)
}

// AlertStore writes alerts and audit entries.
type AlertStore interface {
	CreateAlert(ctx context.Context, a Alert) (*Alert, error)
	// CreateOpenAlertOnce inserts a unless an unresolved alert of the same type already exists for
	// a.PurchaseOrderID. The audit entry, when given, is written only if the alert was created.
	CreateOpenAlertOnce(ctx context.Context, a Alert, audit *AuditLogEntry) (bool, error)
	AppendAudit(ctx context.Context, e AuditLogEntry) error
}

// ReorderStore is every collaborator the engine needs from the datastore.
type ReorderStore interface {
	RuleStore
	ReliabilityStore
	OrderStore
	AlertStore
}

package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AutomationMode controls how far the engine may act on a reorder decision without a human.
type AutomationMode string

const (
	ModeManual   AutomationMode = "MANUAL"   // alert only
	ModeAssisted AutomationMode = "ASSISTED" // draft order awaiting approval
	ModeAuto     AutomationMode = "AUTO"     // order sent without a human step
)

// Action is the side effect a decision resolves to.
type Action string

const (
	ActionNone  Action = "NONE"
	ActionAlert Action = "ALERT"
	ActionDraft Action = "DRAFT"
	ActionSent  Action = "SENT"
)

// RunMode selects whether a reconciliation pass may write.
type RunMode string

const (
	RunModeDryRun  RunMode = "DRY_RUN"
	RunModeExecute RunMode = "EXECUTE"
)

// ParseRunMode accepts DRY_RUN or EXECUTE (case-insensitive). Empty defaults to EXECUTE.
func ParseRunMode(s string) (RunMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(RunModeExecute):
		return RunModeExecute, nil
	case string(RunModeDryRun):
		return RunModeDryRun, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRunMode, s)
	}
}

type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "DRAFT"
	OrderStatusSent      OrderStatus = "SENT"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusProblem   OrderStatus = "PROBLEM"
)

type AlertType string

const (
	AlertReorderNeeded  AlertType = "REORDER_NEEDED"
	AlertPODraftCreated AlertType = "PO_DRAFT_CREATED"
	AlertDeliveryLate   AlertType = "DELIVERY_LATE"
)

type AlertSeverity string

const (
	SeverityInfo AlertSeverity = "INFO"
	SeverityWarn AlertSeverity = "WARN"
	SeverityCrit AlertSeverity = "CRIT"
)

// Audit actions written by the engine.
const (
	AuditOrderCreated      = "PO_AUTO_CREATED"
	AuditDeliverySLABreach = "DELIVERY_SLA_BREACH"
)

// ReorderRule is the operator-defined policy for one product at one location.
type ReorderRule struct {
	ID                uuid.UUID
	OrganizationID    uuid.UUID
	ProductID         uuid.UUID
	LocationID        uuid.UUID
	SupplierID        *uuid.UUID
	SafetyDays        decimal.Decimal
	ReorderQty        decimal.Decimal
	AutomationMode    AutomationMode
	EmergencyOverride bool
	MaxOrderValue     *decimal.Decimal // spend cap per automated order
	MaxUnitPrice      *decimal.Decimal // price cap per unit
	IsActive          bool
}

// ReorderCandidate is an active rule joined with the current stock snapshot and usage rate.
// OnHand and DailyUsage are nil when the inventory flows have not recorded them yet.
type ReorderCandidate struct {
	Rule          ReorderRule
	ProductName   string
	LocationName  string
	OnHand        *decimal.Decimal
	DailyUsage    *decimal.Decimal
	LastUnitPrice *decimal.Decimal
}

// PolicyInput builds the evaluator input, defaulting missing stock and usage to zero.
func (c ReorderCandidate) PolicyInput(counts ReliabilityCounts) PolicyInput {
	return PolicyInput{
		OnHand:               decimalOrZero(c.OnHand).InexactFloat64(),
		DailyUsage:           decimalOrZero(c.DailyUsage).InexactFloat64(),
		SafetyDays:           c.Rule.SafetyDays.InexactFloat64(),
		ReorderQty:           c.Rule.ReorderQty.InexactFloat64(),
		EmergencyOverride:    c.Rule.EmergencyOverride,
		AutomationMode:       c.Rule.AutomationMode,
		LateDeliveriesCount:  counts.LateDeliveries,
		EmergencyOrdersCount: counts.EmergencyOrders,
	}
}

// exceedsCaps reports whether ordering qty at the last known price breaks the rule's spend or price cap.
// Without a known price no cap can be checked.
func (c ReorderCandidate) exceedsCaps(qty decimal.Decimal) bool {
	if c.LastUnitPrice == nil {
		return false
	}
	price := *c.LastUnitPrice
	if c.Rule.MaxUnitPrice != nil && price.GreaterThan(*c.Rule.MaxUnitPrice) {
		return true
	}
	if c.Rule.MaxOrderValue != nil && qty.Mul(price).GreaterThan(*c.Rule.MaxOrderValue) {
		return true
	}
	return false
}

func decimalOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// Supplier holds the delivery promise and contact channel used by the notifier and watchdog.
type Supplier struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	LeadTimeHours  int
	WebhookURL     *string
	Phone          *string
	Email          *string
}

// PurchaseOrder is an order header. Engine-created orders carry exactly one item.
type PurchaseOrder struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	LocationID      uuid.UUID
	SupplierID      *uuid.UUID
	Status          OrderStatus
	IsEmergency     bool
	CreatedByEngine bool
	Notes           *string
	SentAt          *time.Time
	DeliveredAt     *time.Time
	SendError       *string
	CreatedAt       time.Time
	Items           []PurchaseOrderItem
}

type PurchaseOrderItem struct {
	ID              uuid.UUID
	PurchaseOrderID uuid.UUID
	ProductID       uuid.UUID
	Quantity        decimal.Decimal
	UnitPrice       *decimal.Decimal
}

// EngineOrderInput is everything written atomically when a decision resolves to DRAFT or SENT.
// The store fills Audit.EntityID and DraftAlert.PurchaseOrderID with the new order's ID.
type EngineOrderInput struct {
	OrganizationID uuid.UUID
	LocationID     uuid.UUID
	SupplierID     *uuid.UUID
	ProductID      uuid.UUID
	Quantity       decimal.Decimal
	UnitPrice      *decimal.Decimal
	Status         OrderStatus
	IsEmergency    bool
	Notes          string
	SentAt         *time.Time
	Audit          AuditLogEntry
	DraftAlert     *Alert
}

// Alert is an operator-facing notice; operators resolve it outside the engine.
type Alert struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	LocationID      *uuid.UUID
	ProductID       *uuid.UUID
	PurchaseOrderID *uuid.UUID
	Type            AlertType
	Severity        AlertSeverity
	Message         string
	ResolvedAt      *time.Time
	CreatedAt       time.Time
}

// AuditLogEntry is an append-only record of an automated action.
type AuditLogEntry struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Action         string
	EntityType     string
	EntityID       *uuid.UUID
	Payload        json.RawMessage
	CreatedAt      time.Time
}

// OpenOrder is the watchdog's view of a SENT order awaiting delivery confirmation.
type OpenOrder struct {
	OrderID        uuid.UUID
	OrganizationID uuid.UUID
	LocationID     uuid.UUID
	SupplierID     *uuid.UUID
	SupplierName   *string
	LeadTimeHours  *int
	SentAt         *time.Time
	CreatedAt      time.Time
}

// OrderNotification is the notifier's view of an order: enough to compose a supplier message.
type OrderNotification struct {
	OrderID        uuid.UUID
	OrganizationID uuid.UUID
	LocationName   string
	IsEmergency    bool
	Notes          *string
	Supplier       *Supplier
	Lines          []NotificationLine
}

type NotificationLine struct {
	ProductName string
	Unit        string
	Quantity    decimal.Decimal
}

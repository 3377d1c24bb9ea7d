package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"reorder-engine/internal/logger"
)

type WatchdogStats struct {
	Checked       int `json:"checked"`
	SLABreaches   int `json:"sla_breaches"`
	AlertsCreated int `json:"alerts_created"`
	Errors        int `json:"errors"`
}

// DeliveryWatchdog flags SENT orders whose supplier lead time elapsed without a delivery.
type DeliveryWatchdog struct {
	orders OrderStore
	alerts AlertStore
	cfg    EngineConfig
	now    func() time.Time
	log    *logger.Logger
}

func NewDeliveryWatchdog(orders OrderStore, alerts AlertStore, cfg EngineConfig, log *logger.Logger) *DeliveryWatchdog {
	if log == nil {
		log = logger.Nop()
	}
	return &DeliveryWatchdog{orders: orders, alerts: alerts, cfg: cfg.WithDefaults(), now: time.Now, log: log}
}

// SetClock overrides time.Now.
func (w *DeliveryWatchdog) SetClock(now func() time.Time) { w.now = now }

// ExpectedDelivery is sentAt plus the supplier lead time. Orders without a sent timestamp
// fall back to their creation time; orders without a supplier use the default lead time.
func (w *DeliveryWatchdog) ExpectedDelivery(o OpenOrder) time.Time {
	start := o.CreatedAt
	if o.SentAt != nil {
		start = *o.SentAt
	}
	hours := w.cfg.DefaultLeadTimeHours
	if o.LeadTimeHours != nil {
		hours = *o.LeadTimeHours
	}
	return start.Add(time.Duration(hours) * time.Hour)
}

// Run scans every open SENT order once. Breach alerts are deduplicated on
// (purchase order, DELIVERY_LATE) among unresolved alerts.
func (w *DeliveryWatchdog) Run(ctx context.Context) (*WatchdogStats, error) {
	ctx, span := tracer.Start(ctx, "watchdog.run")
	defer span.End()

	orders, err := w.orders.ListOpenSentOrders(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &WatchdogStats{}, fmt.Errorf("load open orders: %w", err)
	}

	stats := &WatchdogStats{}
	now := w.now()
	for _, o := range orders {
		stats.Checked++
		expected := w.ExpectedDelivery(o)
		if !now.After(expected) {
			continue
		}
		stats.SLABreaches++

		created, err := w.raiseBreach(ctx, o, expected, now)
		if err != nil {
			stats.Errors++
			w.log.Warn("delivery breach alert failed", "purchase_order_id", o.OrderID, "error", err)
			continue
		}
		if created {
			stats.AlertsCreated++
		}
	}

	span.SetAttributes(
		attribute.Int("watchdog.checked", stats.Checked),
		attribute.Int("watchdog.breaches", stats.SLABreaches),
		attribute.Int("watchdog.alerts_created", stats.AlertsCreated),
	)
	w.log.Info("delivery watchdog finished",
		"checked", stats.Checked,
		"sla_breaches", stats.SLABreaches,
		"alerts_created", stats.AlertsCreated,
		"errors", stats.Errors,
	)
	return stats, nil
}

func (w *DeliveryWatchdog) raiseBreach(ctx context.Context, o OpenOrder, expected, now time.Time) (bool, error) {
	overdue := now.Sub(expected).Hours()
	supplier := "supplier"
	if o.SupplierName != nil && *o.SupplierName != "" {
		supplier = *o.SupplierName
	}

	orderID, locID := o.OrderID, o.LocationID
	alert := Alert{
		OrganizationID:  o.OrganizationID,
		LocationID:      &locID,
		PurchaseOrderID: &orderID,
		Type:            AlertDeliveryLate,
		Severity:        SeverityCrit,
		Message: fmt.Sprintf("Purchase order %s from %s was due %s and has not been delivered.",
			o.OrderID, supplier, expected.UTC().Format(time.RFC3339)),
	}

	payload, err := json.Marshal(map[string]any{
		"purchase_order_id": o.OrderID,
		"expected_delivery": expected.UTC(),
		"breach_hours":      overdue,
	})
	if err != nil {
		return false, fmt.Errorf("encode breach payload: %w", err)
	}
	audit := &AuditLogEntry{
		OrganizationID: o.OrganizationID,
		Action:         AuditDeliverySLABreach,
		EntityType:     "purchase_order",
		EntityID:       &orderID,
		Payload:        payload,
	}
	return w.alerts.CreateOpenAlertOnce(ctx, alert, audit)
}

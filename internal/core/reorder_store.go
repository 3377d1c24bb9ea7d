package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type reorderStore struct {
	pool *pgxpool.Pool
}

// NewReorderStore constructs a ReorderStore backed by PostgreSQL.
func NewReorderStore(pool *pgxpool.Pool) ReorderStore {
	return &reorderStore{pool: pool}
}

func (s *reorderStore) ListReorderCandidates(ctx context.Context, orgID *uuid.UUID) ([]ReorderCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.organization_id, r.product_id, r.location_id, r.supplier_id,
		       r.safety_days, r.reorder_qty, r.automation_mode, r.emergency_override,
		       r.max_order_value, r.max_unit_price, r.is_active,
		       p.name, l.name, sl.on_hand, ur.daily_usage, p.last_unit_price
		FROM reorder_rules r
		JOIN products p ON p.id = r.product_id
		JOIN locations l ON l.id = r.location_id
		LEFT JOIN stock_levels sl ON sl.product_id = r.product_id AND sl.location_id = r.location_id
		LEFT JOIN usage_rates ur ON ur.product_id = r.product_id AND ur.location_id = r.location_id
		WHERE r.is_active = true
		  AND ($1::uuid IS NULL OR r.organization_id = $1)
		ORDER BY r.organization_id, l.name, p.name`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("query reorder candidates: %w", err)
	}
	defer rows.Close()

	var out []ReorderCandidate
	for rows.Next() {
		var c ReorderCandidate
		var mode string
		if err := rows.Scan(
			&c.Rule.ID, &c.Rule.OrganizationID, &c.Rule.ProductID, &c.Rule.LocationID, &c.Rule.SupplierID,
			&c.Rule.SafetyDays, &c.Rule.ReorderQty, &mode, &c.Rule.EmergencyOverride,
			&c.Rule.MaxOrderValue, &c.Rule.MaxUnitPrice, &c.Rule.IsActive,
			&c.ProductName, &c.LocationName, &c.OnHand, &c.DailyUsage, &c.LastUnitPrice,
		); err != nil {
			return nil, fmt.Errorf("scan reorder candidate: %w", err)
		}
		c.Rule.AutomationMode = AutomationMode(mode)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *reorderStore) ListReliabilityEvents(ctx context.Context, orgID *uuid.UUID, since time.Time) ([]ReliabilityEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT 'LATE_DELIVERY', poi.product_id, po.location_id, a.created_at
		FROM alerts a
		JOIN purchase_orders po ON po.id = a.purchase_order_id
		JOIN purchase_order_items poi ON poi.purchase_order_id = po.id
		WHERE a.type = 'DELIVERY_LATE'
		  AND a.created_at >= $2
		  AND ($1::uuid IS NULL OR a.organization_id = $1)
		UNION ALL
		SELECT 'EMERGENCY_ORDER', poi.product_id, po.location_id, po.created_at
		FROM purchase_orders po
		JOIN purchase_order_items poi ON poi.purchase_order_id = po.id
		WHERE po.is_emergency = true
		  AND po.created_at >= $2
		  AND ($1::uuid IS NULL OR po.organization_id = $1)`,
		orgID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query reliability events: %w", err)
	}
	defer rows.Close()

	var out []ReliabilityEvent
	for rows.Next() {
		var e ReliabilityEvent
		var kind string
		if err := rows.Scan(&kind, &e.ProductID, &e.LocationID, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan reliability event: %w", err)
		}
		e.Kind = ReliabilityEventKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *reorderStore) HasOpenOrder(ctx context.Context, orgID, productID uuid.UUID, since time.Time) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM purchase_orders po
			JOIN purchase_order_items poi ON poi.purchase_order_id = po.id
			WHERE po.organization_id = $1
			  AND poi.product_id = $2
			  AND po.status IN ('DRAFT', 'SENT')
			  AND po.created_at >= $3
		)`,
		orgID, productID, since,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check open orders: %w", err)
	}
	return exists, nil
}

func (s *reorderStore) CreateEngineOrder(ctx context.Context, in EngineOrderInput) (*PurchaseOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var notes *string
	if in.Notes != "" {
		notes = &in.Notes
	}

	po := &PurchaseOrder{
		OrganizationID:  in.OrganizationID,
		LocationID:      in.LocationID,
		SupplierID:      in.SupplierID,
		Status:          in.Status,
		IsEmergency:     in.IsEmergency,
		CreatedByEngine: true,
		Notes:           notes,
		SentAt:          in.SentAt,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (organization_id, location_id, supplier_id, status, is_emergency,
		                             created_by_engine, notes, sent_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, $7)
		RETURNING id, created_at`,
		in.OrganizationID, in.LocationID, in.SupplierID, string(in.Status), in.IsEmergency, notes, in.SentAt,
	).Scan(&po.ID, &po.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert purchase order: %w", err)
	}

	item := PurchaseOrderItem{
		PurchaseOrderID: po.ID,
		ProductID:       in.ProductID,
		Quantity:        in.Quantity,
		UnitPrice:       in.UnitPrice,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO purchase_order_items (purchase_order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		po.ID, in.ProductID, in.Quantity, in.UnitPrice,
	).Scan(&item.ID); err != nil {
		return nil, fmt.Errorf("insert purchase order item: %w", err)
	}
	po.Items = []PurchaseOrderItem{item}

	audit := in.Audit
	audit.EntityID = &po.ID
	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, err
	}

	if in.DraftAlert != nil {
		a := *in.DraftAlert
		a.PurchaseOrderID = &po.ID
		if _, err := insertAlert(ctx, tx, a); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase order: %w", err)
	}
	return po, nil
}

func (s *reorderStore) RecordSendResult(ctx context.Context, orderID uuid.UUID, sendErr error) error {
	var msg *string
	if sendErr != nil {
		m := sendErr.Error()
		msg = &m
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE purchase_orders SET send_error = $2, updated_at = now() WHERE id = $1",
		orderID, msg,
	)
	if err != nil {
		return fmt.Errorf("record send result for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record send result: %w", ErrOrderNotFound)
	}
	return nil
}

func (s *reorderStore) ListOpenSentOrders(ctx context.Context) ([]OpenOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT po.id, po.organization_id, po.location_id, po.supplier_id,
		       sup.name, sup.lead_time_hours, po.sent_at, po.created_at
		FROM purchase_orders po
		LEFT JOIN suppliers sup ON sup.id = po.supplier_id
		WHERE po.status = 'SENT'
		  AND po.delivered_at IS NULL
		ORDER BY po.created_at`)
	if err != nil {
		return nil, fmt.Errorf("query open sent orders: %w", err)
	}
	defer rows.Close()

	var out []OpenOrder
	for rows.Next() {
		var o OpenOrder
		if err := rows.Scan(
			&o.OrderID, &o.OrganizationID, &o.LocationID, &o.SupplierID,
			&o.SupplierName, &o.LeadTimeHours, &o.SentAt, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan open order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *reorderStore) GetOrderForNotification(ctx context.Context, orderID uuid.UUID) (*OrderNotification, error) {
	n := &OrderNotification{OrderID: orderID}
	var supplierID *uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT po.organization_id, l.name, po.is_emergency, po.notes, po.supplier_id
		FROM purchase_orders po
		JOIN locations l ON l.id = po.location_id
		WHERE po.id = $1`,
		orderID,
	).Scan(&n.OrganizationID, &n.LocationName, &n.IsEmergency, &n.Notes, &supplierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	if supplierID != nil {
		sup := &Supplier{}
		if err := s.pool.QueryRow(ctx, `
			SELECT id, organization_id, name, lead_time_hours, webhook_url, phone, email
			FROM suppliers WHERE id = $1`,
			*supplierID,
		).Scan(&sup.ID, &sup.OrganizationID, &sup.Name, &sup.LeadTimeHours, &sup.WebhookURL, &sup.Phone, &sup.Email); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("fetch supplier for order %s: %w", orderID, err)
			}
		} else {
			n.Supplier = sup
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT p.name, p.unit, poi.quantity
		FROM purchase_order_items poi
		JOIN products p ON p.id = poi.product_id
		WHERE poi.purchase_order_id = $1
		ORDER BY p.name`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line NotificationLine
		if err := rows.Scan(&line.ProductName, &line.Unit, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		n.Lines = append(n.Lines, line)
	}
	return n, rows.Err()
}

func (s *reorderStore) CreateAlert(ctx context.Context, a Alert) (*Alert, error) {
	return insertAlert(ctx, s.pool, a)
}

func (s *reorderStore) CreateOpenAlertOnce(ctx context.Context, a Alert, audit *AuditLogEntry) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO alerts (organization_id, location_id, product_id, purchase_order_id, type, severity, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (purchase_order_id, type) WHERE resolved_at IS NULL AND purchase_order_id IS NOT NULL
		DO NOTHING
		RETURNING id`,
		a.OrganizationID, a.LocationID, a.ProductID, a.PurchaseOrderID, string(a.Type), string(a.Severity), a.Message,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit alert: %w", err)
	}
	return true, nil
}

func (s *reorderStore) AppendAudit(ctx context.Context, e AuditLogEntry) error {
	return insertAudit(ctx, s.pool, e)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertAlert(ctx context.Context, q querier, a Alert) (*Alert, error) {
	if err := q.QueryRow(ctx, `
		INSERT INTO alerts (organization_id, location_id, product_id, purchase_order_id, type, severity, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		a.OrganizationID, a.LocationID, a.ProductID, a.PurchaseOrderID, string(a.Type), string(a.Severity), a.Message,
	).Scan(&a.ID, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert %s alert: %w", a.Type, err)
	}
	return &a, nil
}

func insertAudit(ctx context.Context, q querier, e AuditLogEntry) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var id uuid.UUID
	if err := q.QueryRow(ctx, `
		INSERT INTO audit_log (organization_id, action, entity_type, entity_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		e.OrganizationID, e.Action, e.EntityType, e.EntityID, string(payload),
	).Scan(&id); err != nil {
		return fmt.Errorf("insert audit entry %s: %w", e.Action, err)
	}
	return nil
}

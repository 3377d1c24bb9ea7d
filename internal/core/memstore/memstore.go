// Package memstore is an in-memory core.ReorderStore used by tests and local dry runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reorder-engine/internal/core"
)

// Hooks inject failures ahead of individual store calls.
type Hooks struct {
	HasOpenOrder      func(productID uuid.UUID) error
	CreateEngineOrder func(in core.EngineOrderInput) error
	CreateAlert       func(a core.Alert) error
	RecordSendResult  func(orderID uuid.UUID) error
}

type Store struct {
	mu sync.Mutex

	now        func() time.Time
	candidates []core.ReorderCandidate
	products   map[uuid.UUID]product
	locations  map[uuid.UUID]string
	suppliers  map[uuid.UUID]core.Supplier
	orders     map[uuid.UUID]*core.PurchaseOrder
	orderSeq   []uuid.UUID
	alerts     []core.Alert
	audit      []core.AuditLogEntry
	events     []seededEvent
	writes     int

	Hooks Hooks
}

type product struct {
	name string
	unit string
}

var _ core.ReorderStore = (*Store)(nil)

func New() *Store {
	return &Store{
		now:       time.Now,
		products:  make(map[uuid.UUID]product),
		locations: make(map[uuid.UUID]string),
		suppliers: make(map[uuid.UUID]core.Supplier),
		orders:    make(map[uuid.UUID]*core.PurchaseOrder),
	}
}

// SetClock sets the time used for created_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddCandidate registers an active rule with its stock snapshot. Missing IDs are generated.
func (s *Store) AddCandidate(c core.ReorderCandidate) core.ReorderCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Rule.ID == uuid.Nil {
		c.Rule.ID = uuid.New()
	}
	if c.Rule.ProductID == uuid.Nil {
		c.Rule.ProductID = uuid.New()
	}
	if c.Rule.LocationID == uuid.Nil {
		c.Rule.LocationID = uuid.New()
	}
	c.Rule.IsActive = true
	if c.ProductName == "" {
		c.ProductName = "product-" + c.Rule.ProductID.String()[:8]
	}
	if c.LocationName == "" {
		c.LocationName = "location-" + c.Rule.LocationID.String()[:8]
	}
	s.products[c.Rule.ProductID] = product{name: c.ProductName, unit: "unit"}
	s.locations[c.Rule.LocationID] = c.LocationName
	s.candidates = append(s.candidates, c)
	return c
}

func (s *Store) AddSupplier(sup core.Supplier) core.Supplier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sup.ID == uuid.Nil {
		sup.ID = uuid.New()
	}
	s.suppliers[sup.ID] = sup
	return sup
}

// SeedOrder stores an order as is, bypassing the write counter.
func (s *Store) SeedOrder(po core.PurchaseOrder) core.PurchaseOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if po.ID == uuid.Nil {
		po.ID = uuid.New()
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = s.now()
	}
	for i := range po.Items {
		po.Items[i].PurchaseOrderID = po.ID
	}
	cp := po
	s.orders[po.ID] = &cp
	s.orderSeq = append(s.orderSeq, po.ID)
	return po
}

type seededEvent struct {
	org uuid.UUID
	core.ReliabilityEvent
}

// SeedEvent adds reliability history for org that is not backed by stored orders or alerts.
func (s *Store) SeedEvent(org uuid.UUID, e core.ReliabilityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, seededEvent{org: org, ReliabilityEvent: e})
}

// Writes counts every mutating call that reached the store.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) Orders() []core.PurchaseOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.PurchaseOrder, 0, len(s.orderSeq))
	for _, id := range s.orderSeq {
		out = append(out, *s.orders[id])
	}
	return out
}

func (s *Store) Order(id uuid.UUID) (core.PurchaseOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	po, ok := s.orders[id]
	if !ok {
		return core.PurchaseOrder{}, false
	}
	return *po, true
}

func (s *Store) Alerts() []core.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Alert(nil), s.alerts...)
}

func (s *Store) Audit() []core.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AuditLogEntry(nil), s.audit...)
}

// MarkDelivered simulates the delivery-confirmation flow.
func (s *Store) MarkDelivered(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if po, ok := s.orders[id]; ok {
		po.Status = core.OrderStatusDelivered
		po.DeliveredAt = &at
	}
}

// ResolveAlerts marks every open alert of type t as resolved.
func (s *Store) ResolveAlerts(t core.AlertType, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].Type == t && s.alerts[i].ResolvedAt == nil {
			s.alerts[i].ResolvedAt = &at
		}
	}
}

func (s *Store) ListReorderCandidates(_ context.Context, orgID *uuid.UUID) ([]core.ReorderCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ReorderCandidate
	for _, c := range s.candidates {
		if !c.Rule.IsActive {
			continue
		}
		if orgID != nil && c.Rule.OrganizationID != *orgID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) ListReliabilityEvents(_ context.Context, orgID *uuid.UUID, since time.Time) ([]core.ReliabilityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.ReliabilityEvent
	for _, e := range s.events {
		if e.OccurredAt.Before(since) || (orgID != nil && e.org != *orgID) {
			continue
		}
		out = append(out, e.ReliabilityEvent)
	}
	for _, a := range s.alerts {
		if a.Type != core.AlertDeliveryLate || a.PurchaseOrderID == nil || a.CreatedAt.Before(since) {
			continue
		}
		if orgID != nil && a.OrganizationID != *orgID {
			continue
		}
		po, ok := s.orders[*a.PurchaseOrderID]
		if !ok {
			continue
		}
		for _, it := range po.Items {
			out = append(out, core.ReliabilityEvent{Kind: core.EventLateDelivery, ProductID: it.ProductID, LocationID: po.LocationID, OccurredAt: a.CreatedAt})
		}
	}
	for _, id := range s.orderSeq {
		po := s.orders[id]
		if !po.IsEmergency || po.CreatedAt.Before(since) {
			continue
		}
		if orgID != nil && po.OrganizationID != *orgID {
			continue
		}
		for _, it := range po.Items {
			out = append(out, core.ReliabilityEvent{Kind: core.EventEmergencyOrder, ProductID: it.ProductID, LocationID: po.LocationID, OccurredAt: po.CreatedAt})
		}
	}
	return out, nil
}

func (s *Store) HasOpenOrder(_ context.Context, orgID, productID uuid.UUID, since time.Time) (bool, error) {
	if s.Hooks.HasOpenOrder != nil {
		if err := s.Hooks.HasOpenOrder(productID); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, po := range s.orders {
		if po.OrganizationID != orgID || po.CreatedAt.Before(since) {
			continue
		}
		if po.Status != core.OrderStatusDraft && po.Status != core.OrderStatusSent {
			continue
		}
		for _, it := range po.Items {
			if it.ProductID == productID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Store) CreateEngineOrder(_ context.Context, in core.EngineOrderInput) (*core.PurchaseOrder, error) {
	if s.Hooks.CreateEngineOrder != nil {
		if err := s.Hooks.CreateEngineOrder(in); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	now := s.now()
	po := &core.PurchaseOrder{
		ID:              uuid.New(),
		OrganizationID:  in.OrganizationID,
		LocationID:      in.LocationID,
		SupplierID:      in.SupplierID,
		Status:          in.Status,
		IsEmergency:     in.IsEmergency,
		CreatedByEngine: true,
		SentAt:          in.SentAt,
		CreatedAt:       now,
	}
	if in.Notes != "" {
		notes := in.Notes
		po.Notes = &notes
	}
	po.Items = []core.PurchaseOrderItem{{
		ID:              uuid.New(),
		PurchaseOrderID: po.ID,
		ProductID:       in.ProductID,
		Quantity:        in.Quantity,
		UnitPrice:       in.UnitPrice,
	}}
	s.orders[po.ID] = po
	s.orderSeq = append(s.orderSeq, po.ID)

	audit := in.Audit
	audit.ID = uuid.New()
	audit.EntityID = &po.ID
	audit.CreatedAt = now
	s.audit = append(s.audit, audit)

	if in.DraftAlert != nil {
		a := *in.DraftAlert
		a.ID = uuid.New()
		a.PurchaseOrderID = &po.ID
		a.CreatedAt = now
		s.alerts = append(s.alerts, a)
	}

	cp := *po
	return &cp, nil
}

func (s *Store) RecordSendResult(_ context.Context, orderID uuid.UUID, sendErr error) error {
	if s.Hooks.RecordSendResult != nil {
		if err := s.Hooks.RecordSendResult(orderID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	po, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("record send result: %w", core.ErrOrderNotFound)
	}
	s.writes++
	if sendErr == nil {
		po.SendError = nil
		return nil
	}
	msg := sendErr.Error()
	po.SendError = &msg
	return nil
}

func (s *Store) ListOpenSentOrders(_ context.Context) ([]core.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.OpenOrder
	for _, id := range s.orderSeq {
		po := s.orders[id]
		if po.Status != core.OrderStatusSent || po.DeliveredAt != nil {
			continue
		}
		o := core.OpenOrder{
			OrderID:        po.ID,
			OrganizationID: po.OrganizationID,
			LocationID:     po.LocationID,
			SupplierID:     po.SupplierID,
			SentAt:         po.SentAt,
			CreatedAt:      po.CreatedAt,
		}
		if po.SupplierID != nil {
			if sup, ok := s.suppliers[*po.SupplierID]; ok {
				name, lead := sup.Name, sup.LeadTimeHours
				o.SupplierName = &name
				o.LeadTimeHours = &lead
			}
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *Store) GetOrderForNotification(_ context.Context, orderID uuid.UUID) (*core.OrderNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	po, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, core.ErrOrderNotFound)
	}
	n := &core.OrderNotification{
		OrderID:        po.ID,
		OrganizationID: po.OrganizationID,
		LocationName:   s.locations[po.LocationID],
		IsEmergency:    po.IsEmergency,
		Notes:          po.Notes,
	}
	if po.SupplierID != nil {
		if sup, ok := s.suppliers[*po.SupplierID]; ok {
			n.Supplier = &sup
		}
	}
	for _, it := range po.Items {
		p := s.products[it.ProductID]
		n.Lines = append(n.Lines, core.NotificationLine{ProductName: p.name, Unit: p.unit, Quantity: it.Quantity})
	}
	sort.Slice(n.Lines, func(i, j int) bool { return n.Lines[i].ProductName < n.Lines[j].ProductName })
	return n, nil
}

func (s *Store) CreateAlert(_ context.Context, a core.Alert) (*core.Alert, error) {
	if s.Hooks.CreateAlert != nil {
		if err := s.Hooks.CreateAlert(a); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	a.ID = uuid.New()
	a.CreatedAt = s.now()
	s.alerts = append(s.alerts, a)
	return &a, nil
}

func (s *Store) CreateOpenAlertOnce(_ context.Context, a core.Alert, audit *core.AuditLogEntry) (bool, error) {
	if s.Hooks.CreateAlert != nil {
		if err := s.Hooks.CreateAlert(a); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.PurchaseOrderID != nil {
		for _, existing := range s.alerts {
			if existing.ResolvedAt == nil && existing.Type == a.Type &&
				existing.PurchaseOrderID != nil && *existing.PurchaseOrderID == *a.PurchaseOrderID {
				return false, nil
			}
		}
	}
	s.writes++
	now := s.now()
	a.ID = uuid.New()
	a.CreatedAt = now
	s.alerts = append(s.alerts, a)
	if audit != nil {
		e := *audit
		e.ID = uuid.New()
		e.CreatedAt = now
		s.audit = append(s.audit, e)
	}
	return true, nil
}

func (s *Store) AppendAudit(_ context.Context, e core.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	e.ID = uuid.New()
	e.CreatedAt = s.now()
	s.audit = append(s.audit, e)
	return nil
}

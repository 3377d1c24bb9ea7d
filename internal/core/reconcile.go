package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"reorder-engine/internal/logger"
)

var tracer = otel.Tracer("reorder-engine/core")

// RunRequest scopes one reconciliation pass. A nil OrganizationID covers every organization.
type RunRequest struct {
	OrganizationID *uuid.UUID
	Mode           RunMode
}

// RunStats is the run summary. Every counter is present even when items failed.
type RunStats struct {
	Processed          int `json:"processed"`
	Alerts             int `json:"alerts"`
	Drafts             int `json:"drafts"`
	Sent               int `json:"sent"`
	SkippedIdempotency int `json:"skipped_idempotency"`
	Errors             int `json:"errors"`
}

// Add folds one item result into the summary.
func (s *RunStats) Add(r ItemResult) {
	s.Processed++
	switch r.Outcome {
	case OutcomeAlert:
		s.Alerts++
	case OutcomeDraft:
		s.Drafts++
	case OutcomeSent:
		s.Sent++
	case OutcomeSkippedIdempotency:
		s.SkippedIdempotency++
	case OutcomeError:
		s.Errors++
	}
}

type ItemOutcome string

const (
	OutcomeNone               ItemOutcome = "NONE"
	OutcomeAlert              ItemOutcome = "ALERT"
	OutcomeDraft              ItemOutcome = "DRAFT"
	OutcomeSent               ItemOutcome = "SENT"
	OutcomeSkippedIdempotency ItemOutcome = "SKIPPED_IDEMPOTENCY"
	OutcomeError              ItemOutcome = "ERROR"
)

// ItemResult is the typed outcome of one rule in a run.
type ItemResult struct {
	RuleID      uuid.UUID
	ProductID   uuid.UUID
	LocationID  uuid.UUID
	Outcome     ItemOutcome
	Decision    Decision
	Reliability ReliabilityCounts
	CapExceeded bool
	OrderID     *uuid.UUID
	AlertID     *uuid.UUID
	Err         error
	// Notify is set for SENT orders; it resolves once the supplier notification finished.
	Notify *NotifyFuture
}

type RunReport struct {
	RunID          uuid.UUID
	Mode           RunMode
	OrganizationID *uuid.UUID
	StartedAt      time.Time
	FinishedAt     time.Time
	Stats          RunStats
	Items          []ItemResult
}

// RunnerOption customizes a ReconciliationRunner.
type RunnerOption func(*ReconciliationRunner)

// WithLocker sets the per-item lock held across the open-order check and the writes.
func WithLocker(l ItemLocker) RunnerOption {
	return func(r *ReconciliationRunner) { r.locker = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *ReconciliationRunner) { r.now = now }
}

// ReconciliationRunner executes reconciliation passes. Rules are processed sequentially;
// supplier notifications are handed to the dispatcher and never awaited.
type ReconciliationRunner struct {
	store      ReorderStore
	dispatcher *NotifyDispatcher
	cfg        EngineConfig
	locker     ItemLocker
	now        func() time.Time
	log        *logger.Logger
}

func NewReconciliationRunner(store ReorderStore, dispatcher *NotifyDispatcher, cfg EngineConfig, log *logger.Logger, opts ...RunnerOption) *ReconciliationRunner {
	if log == nil {
		log = logger.Nop()
	}
	r := &ReconciliationRunner{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg.WithDefaults(),
		locker:     NoopLocker(),
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one pass. It returns an error only when the candidate set or the reliability
// history cannot be loaded; per-item failures are reported in the returned stats.
func (r *ReconciliationRunner) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	if req.Mode == "" {
		req.Mode = RunModeExecute
	}
	if req.Mode != RunModeExecute && req.Mode != RunModeDryRun {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunMode, req.Mode)
	}

	report := &RunReport{
		RunID:          uuid.New(),
		Mode:           req.Mode,
		OrganizationID: req.OrganizationID,
		StartedAt:      r.now(),
	}
	log := r.log.With("run_id", report.RunID, "run_mode", req.Mode)

	ctx, span := tracer.Start(ctx, "reconcile.run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", report.RunID.String()), attribute.String("run.mode", string(req.Mode)))

	candidates, err := r.store.ListReorderCandidates(ctx, req.OrganizationID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		report.FinishedAt = r.now()
		return report, fmt.Errorf("load reorder candidates: %w", err)
	}

	now := r.now()
	events, err := r.store.ListReliabilityEvents(ctx, req.OrganizationID, now.Add(-r.cfg.ReliabilityWindow))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		report.FinishedAt = r.now()
		return report, fmt.Errorf("load reliability history: %w", err)
	}
	tracker := NewReliabilityTracker(events, now, r.cfg.ReliabilityWindow)

	for _, c := range candidates {
		res := r.processItem(ctx, report.RunID, req.Mode, tracker, c)
		if res.Err != nil {
			log.Warn("reorder rule failed",
				"rule_id", c.Rule.ID,
				"product_id", c.Rule.ProductID,
				"location_id", c.Rule.LocationID,
				"error", res.Err,
			)
		}
		report.Stats.Add(res)
		report.Items = append(report.Items, res)
	}

	report.FinishedAt = r.now()
	span.SetAttributes(
		attribute.Int("run.processed", report.Stats.Processed),
		attribute.Int("run.errors", report.Stats.Errors),
	)
	log.Info("reconciliation finished",
		"processed", report.Stats.Processed,
		"alerts", report.Stats.Alerts,
		"drafts", report.Stats.Drafts,
		"sent", report.Stats.Sent,
		"skipped_idempotency", report.Stats.SkippedIdempotency,
		"errors", report.Stats.Errors,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

func (r *ReconciliationRunner) processItem(ctx context.Context, runID uuid.UUID, mode RunMode, tracker *ReliabilityTracker, c ReorderCandidate) (res ItemResult) {
	rule := c.Rule
	res = ItemResult{RuleID: rule.ID, ProductID: rule.ProductID, LocationID: rule.LocationID, Outcome: OutcomeNone}

	ctx, span := tracer.Start(ctx, "reconcile.item")
	defer span.End()
	span.SetAttributes(attribute.String("rule.id", rule.ID.String()))

	defer func() {
		if rv := recover(); rv != nil {
			res.Err = fmt.Errorf("panic processing rule %s: %v", rule.ID, rv)
		}
		if res.Err != nil {
			res.Outcome = OutcomeError
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.SetAttributes(attribute.String("item.outcome", string(res.Outcome)))
	}()

	res.Reliability = tracker.Counts(rule.ProductID, rule.LocationID)
	res.Decision = EvaluatePolicy(r.cfg, c.PolicyInput(res.Reliability))
	if !res.Decision.ShouldReorder || res.Decision.Action == ActionNone {
		return res
	}

	action := res.Decision.Action
	qty := rule.ReorderQty
	if action == ActionSent && !res.Decision.IsEmergency && c.exceedsCaps(qty) {
		action = ActionDraft
		res.CapExceeded = true
	}
	if action != ActionAlert && !qty.IsPositive() {
		res.Err = fmt.Errorf("%w: rule %s has reorder quantity %s", ErrInvalidRule, rule.ID, qty)
		return res
	}

	release, err := r.locker.TryLock(ctx, ItemLockKey(rule.OrganizationID, rule.ProductID))
	if errors.Is(err, ErrLockNotObtained) {
		res.Outcome = OutcomeSkippedIdempotency
		return res
	}
	if err != nil {
		res.Err = fmt.Errorf("lock item: %w", err)
		return res
	}
	defer release()

	open, err := r.store.HasOpenOrder(ctx, rule.OrganizationID, rule.ProductID, r.now().Add(-r.cfg.IdempotencyWindow))
	if err != nil {
		res.Err = err
		return res
	}
	if open {
		res.Outcome = OutcomeSkippedIdempotency
		return res
	}

	if mode == RunModeDryRun {
		res.Outcome = outcomeFor(action)
		return res
	}

	switch action {
	case ActionAlert:
		alert, err := r.store.CreateAlert(ctx, r.reorderAlert(c, res.Decision))
		if err != nil {
			res.Err = err
			return res
		}
		res.AlertID = &alert.ID
		res.Outcome = OutcomeAlert
	case ActionDraft, ActionSent:
		in, err := r.orderInput(runID, c, res, action)
		if err != nil {
			res.Err = err
			return res
		}
		po, err := r.store.CreateEngineOrder(ctx, in)
		if err != nil {
			res.Err = err
			return res
		}
		res.OrderID = &po.ID
		res.Outcome = outcomeFor(action)
		if action == ActionSent {
			if r.dispatcher != nil {
				res.Notify = r.dispatcher.Dispatch(po.ID)
			} else {
				r.log.Warn("no notifier configured, order left unsent to supplier", "purchase_order_id", po.ID)
			}
		}
	default:
		res.Err = fmt.Errorf("unexpected action %q", action)
	}
	return res
}

func outcomeFor(a Action) ItemOutcome {
	switch a {
	case ActionAlert:
		return OutcomeAlert
	case ActionDraft:
		return OutcomeDraft
	case ActionSent:
		return OutcomeSent
	default:
		return OutcomeNone
	}
}

func (r *ReconciliationRunner) reorderAlert(c ReorderCandidate, d Decision) Alert {
	severity := SeverityWarn
	if d.IsEmergency {
		severity = SeverityCrit
	}
	loc, prod := c.Rule.LocationID, c.Rule.ProductID
	return Alert{
		OrganizationID: c.Rule.OrganizationID,
		LocationID:     &loc,
		ProductID:      &prod,
		Type:           AlertReorderNeeded,
		Severity:       severity,
		Message: fmt.Sprintf(
			"%s at %s: %.1f days of stock left, below the %.1f-day buffer (confidence %.2f). Suggested reorder: %s.",
			c.ProductName, c.LocationName, d.DaysRemaining, d.AdjustedSafetyDays, d.ConfidenceScore, c.Rule.ReorderQty,
		),
	}
}

// auditPayload is the decision snapshot stored with every engine-created order.
type auditPayload struct {
	RunID          uuid.UUID         `json:"run_id"`
	RuleID         uuid.UUID         `json:"rule_id"`
	ProductID      uuid.UUID         `json:"product_id"`
	LocationID     uuid.UUID         `json:"location_id"`
	AutomationMode AutomationMode    `json:"automation_mode"`
	Decision       Decision          `json:"decision"`
	Reliability    ReliabilityCounts `json:"reliability"`
	Action         Action            `json:"action"`
	CapExceeded    bool              `json:"cap_exceeded"`
	OnHand         *decimal.Decimal  `json:"on_hand"`
	DailyUsage     *decimal.Decimal  `json:"daily_usage"`
}

func (r *ReconciliationRunner) orderInput(runID uuid.UUID, c ReorderCandidate, res ItemResult, action Action) (EngineOrderInput, error) {
	rule := c.Rule
	payload, err := json.Marshal(auditPayload{
		RunID:          runID,
		RuleID:         rule.ID,
		ProductID:      rule.ProductID,
		LocationID:     rule.LocationID,
		AutomationMode: rule.AutomationMode,
		Decision:       res.Decision,
		Reliability:    res.Reliability,
		Action:         action,
		CapExceeded:    res.CapExceeded,
		OnHand:         c.OnHand,
		DailyUsage:     c.DailyUsage,
	})
	if err != nil {
		return EngineOrderInput{}, fmt.Errorf("encode audit payload for rule %s: %w", rule.ID, err)
	}

	in := EngineOrderInput{
		OrganizationID: rule.OrganizationID,
		LocationID:     rule.LocationID,
		SupplierID:     rule.SupplierID,
		ProductID:      rule.ProductID,
		Quantity:       rule.ReorderQty,
		UnitPrice:      c.LastUnitPrice,
		Status:         OrderStatus(action),
		IsEmergency:    res.Decision.IsEmergency,
		Notes:          fmt.Sprintf("Created by reorder engine run %s", runID),
		Audit: AuditLogEntry{
			OrganizationID: rule.OrganizationID,
			Action:         AuditOrderCreated,
			EntityType:     "purchase_order",
			Payload:        payload,
		},
	}
	if action == ActionSent {
		sentAt := r.now()
		in.SentAt = &sentAt
	}
	if action == ActionDraft {
		loc, prod := rule.LocationID, rule.ProductID
		msg := fmt.Sprintf("Draft order for %s %s at %s awaits review.", rule.ReorderQty, c.ProductName, c.LocationName)
		if res.CapExceeded {
			msg += " Automatic send was held back by the spend or price cap."
		}
		in.DraftAlert = &Alert{
			OrganizationID: rule.OrganizationID,
			LocationID:     &loc,
			ProductID:      &prod,
			Type:           AlertPODraftCreated,
			Severity:       SeverityInfo,
			Message:        msg,
		}
	}
	return in, nil
}

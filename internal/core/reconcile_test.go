package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reorder-engine/internal/core"
	"reorder-engine/internal/core/memstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store      *memstore.Store
	clock      *testClock
	dispatcher *core.NotifyDispatcher
	runner     *core.ReconciliationRunner
	org        uuid.UUID
}

func newFixture(t *testing.T, notifier core.Notifier, opts ...core.RunnerOption) *fixture {
	t.Helper()
	if notifier == nil {
		notifier = core.NotifierFunc(func(context.Context, uuid.UUID) error { return nil })
	}
	f := &fixture{store: memstore.New(), clock: newTestClock(), org: uuid.New()}
	f.store.SetClock(f.clock.Now)
	cfg := core.DefaultEngineConfig()
	f.dispatcher = core.NewNotifyDispatcher(notifier, f.store, cfg, nil)
	opts = append([]core.RunnerOption{core.WithClock(f.clock.Now)}, opts...)
	f.runner = core.NewReconciliationRunner(f.store, f.dispatcher, cfg, nil, opts...)
	t.Cleanup(func() { _ = f.dispatcher.Wait() })
	return f
}

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

// lowStock adds an item with two days of stock against a three-day buffer.
func (f *fixture) lowStock(mode core.AutomationMode) core.ReorderCandidate {
	return f.store.AddCandidate(core.ReorderCandidate{
		Rule: core.ReorderRule{
			OrganizationID: f.org,
			SafetyDays:     decimal.NewFromInt(3),
			ReorderQty:     decimal.NewFromInt(10),
			AutomationMode: mode,
		},
		ProductName:  "Tomatoes",
		LocationName: "Centro",
		OnHand:       dec(2),
		DailyUsage:   dec(1),
	})
}

func (f *fixture) run(t *testing.T, mode core.RunMode) *core.RunReport {
	t.Helper()
	report, err := f.runner.Run(context.Background(), core.RunRequest{Mode: mode})
	require.NoError(t, err)
	return report
}

func TestReconcile_IdempotentAcrossRuns(t *testing.T) {
	f := newFixture(t, nil)
	f.lowStock(core.ModeAssisted)

	first := f.run(t, core.RunModeExecute)
	assert.Equal(t, core.RunStats{Processed: 1, Drafts: 1}, first.Stats)

	f.clock.Advance(time.Hour)
	second := f.run(t, core.RunModeExecute)
	assert.Equal(t, core.RunStats{Processed: 1, SkippedIdempotency: 1}, second.Stats)

	require.Len(t, f.store.Orders(), 1)
	po := f.store.Orders()[0]
	assert.Equal(t, core.OrderStatusDraft, po.Status)
	assert.True(t, po.CreatedByEngine)
	require.Len(t, po.Items, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(po.Items[0].Quantity))

	alerts := f.store.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, core.AlertPODraftCreated, alerts[0].Type)
	assert.Equal(t, core.SeverityInfo, alerts[0].Severity)
	assert.Equal(t, po.ID, *alerts[0].PurchaseOrderID)

	audit := f.store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, core.AuditOrderCreated, audit[0].Action)
	assert.Equal(t, po.ID, *audit[0].EntityID)
	assert.Contains(t, string(audit[0].Payload), `"confidence_score":1`)
	assert.Contains(t, string(audit[0].Payload), `"reliability"`)
}

func TestReconcile_WindowLapses(t *testing.T) {
	f := newFixture(t, nil)
	f.lowStock(core.ModeAssisted)

	f.run(t, core.RunModeExecute)
	f.clock.Advance(25 * time.Hour)
	again := f.run(t, core.RunModeExecute)

	assert.Equal(t, 1, again.Stats.Drafts)
	assert.Len(t, f.store.Orders(), 2)
}

func TestReconcile_DryRunNeverWrites(t *testing.T) {
	f := newFixture(t, nil)
	f.lowStock(core.ModeManual)
	f.lowStock(core.ModeAssisted)
	f.lowStock(core.ModeAuto)
	f.store.AddCandidate(core.ReorderCandidate{
		Rule:       core.ReorderRule{OrganizationID: f.org, SafetyDays: decimal.NewFromInt(3), ReorderQty: decimal.NewFromInt(5), AutomationMode: core.ModeAuto},
		OnHand:     dec(100),
		DailyUsage: dec(1),
	})

	report := f.run(t, core.RunModeDryRun)

	assert.Equal(t, core.RunStats{Processed: 4, Alerts: 1, Drafts: 1, Sent: 1}, report.Stats)
	assert.Zero(t, f.store.Writes())
	assert.Empty(t, f.store.Orders())
	assert.Empty(t, f.store.Alerts())
	assert.Empty(t, f.store.Audit())
	for _, item := range report.Items {
		assert.Nil(t, item.OrderID)
		assert.Nil(t, item.Notify)
	}
}

func TestReconcile_DryRunHonorsIdempotency(t *testing.T) {
	f := newFixture(t, nil)
	c := f.lowStock(core.ModeAuto)
	f.store.SeedOrder(core.PurchaseOrder{
		OrganizationID: f.org,
		LocationID:     c.Rule.LocationID,
		Status:         core.OrderStatusSent,
		Items:          []core.PurchaseOrderItem{{ProductID: c.Rule.ProductID, Quantity: decimal.NewFromInt(3)}},
	})

	report := f.run(t, core.RunModeDryRun)
	assert.Equal(t, core.RunStats{Processed: 1, SkippedIdempotency: 1}, report.Stats)
}

func TestReconcile_ManualAlert(t *testing.T) {
	f := newFixture(t, nil)
	f.lowStock(core.ModeManual)

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, core.RunStats{Processed: 1, Alerts: 1}, report.Stats)
	assert.Empty(t, f.store.Orders())

	alerts := f.store.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, core.AlertReorderNeeded, alerts[0].Type)
	assert.Equal(t, core.SeverityWarn, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "2.0 days")
	assert.Contains(t, alerts[0].Message, "confidence 1.00")
	assert.Equal(t, *report.Items[0].AlertID, alerts[0].ID)
}

func TestReconcile_SentNotifiesAsynchronously(t *testing.T) {
	release := make(chan struct{})
	var notified []uuid.UUID
	var mu sync.Mutex
	f := newFixture(t, core.NotifierFunc(func(ctx context.Context, id uuid.UUID) error {
		<-release
		mu.Lock()
		notified = append(notified, id)
		mu.Unlock()
		return nil
	}))
	f.lowStock(core.ModeAuto)

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, core.RunStats{Processed: 1, Sent: 1}, report.Stats)

	item := report.Items[0]
	require.NotNil(t, item.Notify)
	select {
	case <-item.Notify.Done():
		t.Fatal("run waited for the notifier")
	default:
	}

	close(release)
	require.NoError(t, item.Notify.Wait(context.Background()))

	po, ok := f.store.Order(*item.OrderID)
	require.True(t, ok)
	assert.Equal(t, core.OrderStatusSent, po.Status)
	assert.NotNil(t, po.SentAt)
	assert.Nil(t, po.SendError)

	mu.Lock()
	assert.Equal(t, []uuid.UUID{po.ID}, notified)
	mu.Unlock()
	assert.Empty(t, f.store.Alerts())
}

func TestReconcile_NotifierFailureIsRecorded(t *testing.T) {
	f := newFixture(t, core.NotifierFunc(func(context.Context, uuid.UUID) error {
		return errors.New("supplier webhook returned 503")
	}))
	f.lowStock(core.ModeAuto)

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, 1, report.Stats.Sent)
	assert.Zero(t, report.Stats.Errors)

	item := report.Items[0]
	err := item.Notify.Wait(context.Background())
	require.Error(t, err)

	po, ok := f.store.Order(*item.OrderID)
	require.True(t, ok)
	assert.Equal(t, core.OrderStatusSent, po.Status)
	require.NotNil(t, po.SendError)
	assert.Contains(t, *po.SendError, "503")
}

func TestReconcile_NotifierPanicIsRecorded(t *testing.T) {
	f := newFixture(t, core.NotifierFunc(func(context.Context, uuid.UUID) error { panic("boom") }))
	f.lowStock(core.ModeAuto)

	report := f.run(t, core.RunModeExecute)
	err := report.Items[0].Notify.Wait(context.Background())
	require.Error(t, err)

	po, _ := f.store.Order(*report.Items[0].OrderID)
	require.NotNil(t, po.SendError)
	assert.Contains(t, *po.SendError, "boom")
}

func TestReconcile_EmergencyOverridesManual(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddCandidate(core.ReorderCandidate{
		Rule: core.ReorderRule{
			OrganizationID:    f.org,
			SafetyDays:        decimal.NewFromInt(3),
			ReorderQty:        decimal.NewFromInt(8),
			AutomationMode:    core.ModeManual,
			EmergencyOverride: true,
		},
		OnHand:     dec(0.5),
		DailyUsage: dec(1),
	})

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, 1, report.Stats.Sent)
	require.NoError(t, report.Items[0].Notify.Wait(context.Background()))

	po := f.store.Orders()[0]
	assert.True(t, po.IsEmergency)
	assert.Equal(t, core.OrderStatusSent, po.Status)
}

func TestReconcile_ItemErrorDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t, nil)
	bad := f.lowStock(core.ModeAssisted)
	f.lowStock(core.ModeAssisted)
	f.store.Hooks.CreateEngineOrder = func(in core.EngineOrderInput) error {
		if in.ProductID == bad.Rule.ProductID {
			return errors.New("connection reset")
		}
		return nil
	}

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, core.RunStats{Processed: 2, Drafts: 1, Errors: 1}, report.Stats)
	assert.Equal(t, core.OutcomeError, report.Items[0].Outcome)
	assert.EqualError(t, report.Items[0].Err, "connection reset")
	assert.Equal(t, core.OutcomeDraft, report.Items[1].Outcome)
}

func TestReconcile_PanicIsCapturedAsItemError(t *testing.T) {
	f := newFixture(t, nil)
	f.lowStock(core.ModeManual)
	f.lowStock(core.ModeManual)
	calls := 0
	f.store.Hooks.HasOpenOrder = func(uuid.UUID) error {
		calls++
		if calls == 1 {
			panic("nil stock row")
		}
		return nil
	}

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, core.RunStats{Processed: 2, Alerts: 1, Errors: 1}, report.Stats)
	assert.Contains(t, report.Items[0].Err.Error(), "nil stock row")
}

func TestReconcile_InvalidQuantityIsItemError(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddCandidate(core.ReorderCandidate{
		Rule:       core.ReorderRule{OrganizationID: f.org, SafetyDays: decimal.NewFromInt(3), AutomationMode: core.ModeAssisted},
		OnHand:     dec(1),
		DailyUsage: dec(1),
	})

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, 1, report.Stats.Errors)
	assert.ErrorIs(t, report.Items[0].Err, core.ErrInvalidRule)
}

func TestReconcile_SpendCapDowngradesToDraft(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddCandidate(core.ReorderCandidate{
		Rule: core.ReorderRule{
			OrganizationID: f.org,
			SafetyDays:     decimal.NewFromInt(3),
			ReorderQty:     decimal.NewFromInt(10),
			AutomationMode: core.ModeAuto,
			MaxOrderValue:  dec(20),
		},
		OnHand:        dec(1),
		DailyUsage:    dec(1),
		LastUnitPrice: dec(5),
	})

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, core.RunStats{Processed: 1, Drafts: 1}, report.Stats)
	assert.True(t, report.Items[0].CapExceeded)
	assert.Nil(t, report.Items[0].Notify)

	alerts := f.store.Alerts()
	require.Len(t, alerts, 1)
	assert.True(t, strings.Contains(alerts[0].Message, "cap"))
	assert.Contains(t, string(f.store.Audit()[0].Payload), `"cap_exceeded":true`)
}

func TestReconcile_CapsNeverHoldBackEmergencies(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddCandidate(core.ReorderCandidate{
		Rule: core.ReorderRule{
			OrganizationID:    f.org,
			SafetyDays:        decimal.NewFromInt(3),
			ReorderQty:        decimal.NewFromInt(10),
			AutomationMode:    core.ModeAuto,
			EmergencyOverride: true,
			MaxUnitPrice:      dec(1),
		},
		OnHand:        dec(0),
		DailyUsage:    dec(1),
		LastUnitPrice: dec(5),
	})

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, 1, report.Stats.Sent)
	assert.False(t, report.Items[0].CapExceeded)
	require.NoError(t, report.Items[0].Notify.Wait(context.Background()))
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string) (func(), error) {
	return nil, core.ErrLockNotObtained
}

func TestReconcile_LockContentionIsSkipped(t *testing.T) {
	f := newFixture(t, nil, core.WithLocker(busyLocker{}))
	f.lowStock(core.ModeAuto)

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, core.RunStats{Processed: 1, SkippedIdempotency: 1}, report.Stats)
	assert.Empty(t, f.store.Orders())
}

func TestReconcile_ReliabilityHistoryRaisesBuffer(t *testing.T) {
	f := newFixture(t, nil)
	c := f.store.AddCandidate(core.ReorderCandidate{
		Rule:       core.ReorderRule{OrganizationID: f.org, SafetyDays: decimal.NewFromInt(3), ReorderQty: decimal.NewFromInt(6), AutomationMode: core.ModeAssisted},
		OnHand:     dec(4),
		DailyUsage: dec(1),
	})
	for i := 0; i < 2; i++ {
		f.store.SeedEvent(f.org, core.ReliabilityEvent{
			Kind:       core.EventLateDelivery,
			ProductID:  c.Rule.ProductID,
			LocationID: c.Rule.LocationID,
			OccurredAt: f.clock.Now().Add(-time.Duration(i+1) * 24 * time.Hour),
		})
	}

	report := f.run(t, core.RunModeExecute)
	item := report.Items[0]
	assert.Equal(t, core.ReliabilityCounts{LateDeliveries: 2}, item.Reliability)
	assert.InDelta(t, 0.7, item.Decision.ConfidenceScore, 1e-9)
	assert.Equal(t, core.OutcomeDraft, item.Outcome)
}

func TestReconcile_OrganizationScope(t *testing.T) {
	f := newFixture(t, nil)
	f.lowStock(core.ModeManual)
	other := uuid.New()
	f.store.AddCandidate(core.ReorderCandidate{
		Rule:       core.ReorderRule{OrganizationID: other, SafetyDays: decimal.NewFromInt(3), ReorderQty: decimal.NewFromInt(1), AutomationMode: core.ModeManual},
		OnHand:     dec(0),
		DailyUsage: dec(1),
	})

	report, err := f.runner.Run(context.Background(), core.RunRequest{OrganizationID: &other, Mode: core.RunModeExecute})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Processed)
	assert.Equal(t, other, f.store.Alerts()[0].OrganizationID)
}

func TestReconcile_ReliabilityIsScopedToOrganization(t *testing.T) {
	f := newFixture(t, nil)
	c := f.lowStock(core.ModeManual)
	other := uuid.New()
	for i := 0; i < 3; i++ {
		f.store.SeedEvent(other, core.ReliabilityEvent{
			Kind:       core.EventLateDelivery,
			ProductID:  c.Rule.ProductID,
			LocationID: c.Rule.LocationID,
			OccurredAt: f.clock.Now().Add(-time.Hour),
		})
	}

	report, err := f.runner.Run(context.Background(), core.RunRequest{OrganizationID: &f.org, Mode: core.RunModeExecute})
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, core.ReliabilityCounts{}, report.Items[0].Reliability)
	assert.Equal(t, 1.0, report.Items[0].Decision.ConfidenceScore)
}

func TestReconcile_UnencodableAuditIsItemError(t *testing.T) {
	f := newFixture(t, nil)
	huge := decimal.RequireFromString("-1e305")
	f.store.AddCandidate(core.ReorderCandidate{
		Rule:       core.ReorderRule{OrganizationID: f.org, SafetyDays: decimal.NewFromInt(3), ReorderQty: decimal.NewFromInt(5), AutomationMode: core.ModeAssisted},
		OnHand:     &huge,
		DailyUsage: dec(0),
	})
	f.lowStock(core.ModeAssisted)

	report := f.run(t, core.RunModeExecute)
	assert.Equal(t, core.RunStats{Processed: 2, Drafts: 1, Errors: 1}, report.Stats)
	assert.Equal(t, core.OutcomeError, report.Items[0].Outcome)
	assert.ErrorContains(t, report.Items[0].Err, "encode audit payload")
	assert.Len(t, f.store.Orders(), 1)
	assert.Len(t, f.store.Audit(), 1)
}

func TestReconcile_InvalidMode(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.runner.Run(context.Background(), core.RunRequest{Mode: "LATER"})
	assert.ErrorIs(t, err, core.ErrInvalidRunMode)
}

type failingCandidates struct {
	*memstore.Store
}

func (failingCandidates) ListReorderCandidates(context.Context, *uuid.UUID) ([]core.ReorderCandidate, error) {
	return nil, errors.New("relation \"reorder_rules\" does not exist")
}

func TestReconcile_LoadFailureReturnsStats(t *testing.T) {
	runner := core.NewReconciliationRunner(failingCandidates{memstore.New()}, nil, core.DefaultEngineConfig(), nil)
	report, err := runner.Run(context.Background(), core.RunRequest{})
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, core.RunStats{}, report.Stats)
	assert.Equal(t, core.RunModeExecute, report.Mode)
}

func TestParseRunMode(t *testing.T) {
	m, err := core.ParseRunMode("")
	require.NoError(t, err)
	assert.Equal(t, core.RunModeExecute, m)

	m, err = core.ParseRunMode("dry_run")
	require.NoError(t, err)
	assert.Equal(t, core.RunModeDryRun, m)

	_, err = core.ParseRunMode("sometimes")
	assert.ErrorIs(t, err, core.ErrInvalidRunMode)
}

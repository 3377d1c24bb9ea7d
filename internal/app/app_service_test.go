package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reorder-engine/internal/app"
	"reorder-engine/internal/core"
	"reorder-engine/internal/core/memstore"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newService(t *testing.T, store *memstore.Store, db app.Pinger) app.ApplicationService {
	t.Helper()
	cfg := core.DefaultEngineConfig()
	d := core.NewNotifyDispatcher(core.NotifierFunc(func(context.Context, uuid.UUID) error { return nil }), store, cfg, nil)
	t.Cleanup(func() { _ = d.Wait() })
	runner := core.NewReconciliationRunner(store, d, cfg, nil)
	watchdog := core.NewDeliveryWatchdog(store, store, cfg, nil)
	return app.NewAppService(runner, watchdog, cfg, db)
}

func addLowStock(store *memstore.Store, org uuid.UUID, mode core.AutomationMode) {
	onHand, usage := decimal.NewFromInt(1), decimal.NewFromInt(1)
	store.AddCandidate(core.ReorderCandidate{
		Rule: core.ReorderRule{
			OrganizationID: org,
			SafetyDays:     decimal.NewFromInt(3),
			ReorderQty:     decimal.NewFromInt(12),
			AutomationMode: mode,
		},
		OnHand:     &onHand,
		DailyUsage: &usage,
	})
}

func TestRunReconciliation(t *testing.T) {
	store := memstore.New()
	org := uuid.New()
	addLowStock(store, org, core.ModeAssisted)
	addLowStock(store, uuid.New(), core.ModeManual)
	svc := newService(t, store, nil)

	res, err := svc.RunReconciliation(context.Background(), app.ReconcileRequest{OrganizationID: org.String(), RunMode: "dry_run"})
	require.NoError(t, err)
	assert.Equal(t, core.RunModeDryRun, res.Mode)
	assert.Equal(t, core.RunStats{Processed: 1, Drafts: 1}, res.Stats)
	require.Len(t, res.Items, 1)
	assert.Equal(t, core.OutcomeDraft, res.Items[0].Outcome)
	assert.Equal(t, core.ActionDraft, res.Items[0].Action)
	assert.InDelta(t, 1.0, res.Items[0].DaysRemaining, 1e-9)

	res, err = svc.RunReconciliation(context.Background(), app.ReconcileRequest{})
	require.NoError(t, err)
	assert.Equal(t, core.RunModeExecute, res.Mode)
	assert.Equal(t, core.RunStats{Processed: 2, Alerts: 1, Drafts: 1}, res.Stats)
}

func TestRunReconciliation_InvalidInput(t *testing.T) {
	svc := newService(t, memstore.New(), nil)

	_, err := svc.RunReconciliation(context.Background(), app.ReconcileRequest{OrganizationID: "acme"})
	assert.ErrorIs(t, err, app.ErrInvalidRequest)

	_, err = svc.RunReconciliation(context.Background(), app.ReconcileRequest{RunMode: "PREVIEW"})
	assert.ErrorIs(t, err, app.ErrInvalidRequest)
	assert.ErrorIs(t, err, core.ErrInvalidRunMode)
}

func TestRunWatchdog(t *testing.T) {
	svc := newService(t, memstore.New(), nil)
	res, err := svc.RunWatchdog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.WatchdogStats{}, res.Stats)
}

func TestEvaluatePolicy(t *testing.T) {
	svc := newService(t, memstore.New(), nil)

	res, err := svc.EvaluatePolicy(app.EvaluateRequest{OnHand: 2, DailyUsage: 1, SafetyDays: 3, ReorderQty: 5, AutomationMode: "auto"})
	require.NoError(t, err)
	assert.Equal(t, core.ActionSent, res.Decision.Action)
	assert.Equal(t, core.ModeAuto, res.Input.AutomationMode)

	res, err = svc.EvaluatePolicy(app.EvaluateRequest{OnHand: 2, DailyUsage: 1, SafetyDays: 3})
	require.NoError(t, err)
	assert.Equal(t, core.ActionAlert, res.Decision.Action)

	_, err = svc.EvaluatePolicy(app.EvaluateRequest{AutomationMode: "yolo"})
	assert.ErrorIs(t, err, app.ErrInvalidRequest)

	_, err = svc.EvaluatePolicy(app.EvaluateRequest{OnHand: -1})
	assert.ErrorIs(t, err, app.ErrInvalidRequest)
}

func TestHealth(t *testing.T) {
	assert.NoError(t, newService(t, memstore.New(), nil).Health(context.Background()))
	assert.NoError(t, newService(t, memstore.New(), pinger{}).Health(context.Background()))
	assert.Error(t, newService(t, memstore.New(), pinger{err: errors.New("refused")}).Health(context.Background()))
}

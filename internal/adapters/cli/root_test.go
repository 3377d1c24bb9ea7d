package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reorder-engine/internal/app"
	"reorder-engine/internal/core"
	"reorder-engine/internal/core/memstore"
)

func memFactory(store *memstore.Store, released *bool) ServiceFactory {
	return func(context.Context) (app.ApplicationService, func(), error) {
		cfg := core.DefaultEngineConfig()
		d := core.NewNotifyDispatcher(core.NotifierFunc(func(context.Context, uuid.UUID) error { return nil }), store, cfg, nil)
		svc := app.NewAppService(
			core.NewReconciliationRunner(store, d, cfg, nil),
			core.NewDeliveryWatchdog(store, store, cfg, nil),
			cfg, nil,
		)
		return svc, func() {
			_ = d.Wait()
			if released != nil {
				*released = true
			}
		}, nil
	}
}

func execute(t *testing.T, factory ServiceFactory, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(factory)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	assert.Equal(t, "reorderctl", cmd.Use)
	for _, name := range []string{"reconcile", "watchdog", "evaluate", "token"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestReconcileFlags(t *testing.T) {
	cmd := NewRootCommand(nil)
	sub, _, err := cmd.Find([]string{"reconcile"})
	require.NoError(t, err)
	require.NotNil(t, sub.Flags().Lookup("org"))
	require.NotNil(t, sub.Flags().Lookup("dry-run"))
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, memFactory(memstore.New(), nil), "watchdog", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestReconcileCommand(t *testing.T) {
	store := memstore.New()
	onHand, usage := decimal.NewFromInt(0), decimal.NewFromInt(2)
	store.AddCandidate(core.ReorderCandidate{
		Rule: core.ReorderRule{
			OrganizationID: uuid.New(),
			SafetyDays:     decimal.NewFromInt(2),
			ReorderQty:     decimal.NewFromInt(10),
			AutomationMode: core.ModeManual,
		},
		OnHand:     &onHand,
		DailyUsage: &usage,
	})

	var released bool
	out, err := execute(t, memFactory(store, &released), "reconcile", "--dry-run", "--format", "json")
	require.NoError(t, err)
	assert.True(t, released)
	var stats core.RunStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, core.RunStats{Processed: 1, Alerts: 1}, stats)
	assert.Empty(t, store.Alerts())

	out, err = execute(t, memFactory(store, nil), "reconcile", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "processed=1 alerts=1")
	assert.Contains(t, out, string(core.OutcomeAlert))
	assert.Len(t, store.Alerts(), 1)

	_, err = execute(t, memFactory(store, nil), "reconcile", "--org", "not-a-uuid")
	require.Error(t, err)
	assert.ErrorIs(t, err, app.ErrInvalidRequest)
}

func TestWatchdogCommand(t *testing.T) {
	store := memstore.New()
	sentAt := time.Now().Add(-50 * time.Hour)
	store.SeedOrder(core.PurchaseOrder{OrganizationID: uuid.New(), LocationID: uuid.New(), Status: core.OrderStatusSent, SentAt: &sentAt})

	out, err := execute(t, memFactory(store, nil), "watchdog")
	require.NoError(t, err)
	assert.Equal(t, "checked=1 breaches=1 alerts_created=1 errors=0\n", out)
}

func noDatabase(t *testing.T) ServiceFactory {
	return func(context.Context) (app.ApplicationService, func(), error) {
		t.Error("service factory opened")
		return nil, nil, errors.New("DATABASE_URL is required")
	}
}

func TestEvaluateCommand(t *testing.T) {
	t.Setenv("ENGINE_CONFIG_FILE", "")
	out, err := execute(t, noDatabase(t), "evaluate",
		"--on-hand", "2", "--daily-usage", "1", "--safety-days", "3", "--reorder-qty", "5", "--mode", "auto", "--format", "json")
	require.NoError(t, err)
	var d core.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, core.ActionSent, d.Action)
	assert.InDelta(t, 2.0, d.DaysRemaining, 1e-9)

	_, err = execute(t, noDatabase(t), "evaluate", "--mode", "SOMETIMES")
	assert.ErrorIs(t, err, app.ErrInvalidRequest)
}

func TestEvaluateCommand_EngineConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("emergency_days_threshold: 0\n"), 0o600))
	args := []string{"evaluate", "--on-hand", "0.5", "--daily-usage", "1", "--safety-days", "3",
		"--reorder-qty", "5", "--emergency-override", "--format", "json"}

	out, err := execute(t, noDatabase(t), append(args, "--engine-config", path)...)
	require.NoError(t, err)
	var d core.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.False(t, d.IsEmergency)
	assert.Equal(t, core.ActionAlert, d.Action)

	t.Setenv("ENGINE_CONFIG_FILE", "")
	out, err = execute(t, noDatabase(t), args...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.True(t, d.IsEmergency)

	_, err = execute(t, noDatabase(t), "evaluate", "--engine-config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read engine config")
}

func TestFactoryError(t *testing.T) {
	boom := errors.New("database: connection refused")
	_, err := execute(t, func(context.Context) (app.ApplicationService, func(), error) { return nil, nil, boom }, "watchdog")
	assert.ErrorIs(t, err, boom)
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, nil, "token", "--secret", "s3cret", "--subject", "cron", "--ttl", "1h")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(string(bytes.TrimSpace([]byte(out))), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "reorder:run", claims["scope"])
	assert.Equal(t, "cron", claims["sub"])

	t.Setenv("SCHEDULER_JWT_SECRET", "")
	_, err = execute(t, nil, "token")
	require.Error(t, err)
}

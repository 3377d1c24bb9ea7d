package observability_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"reorder-engine/internal/core"
	"reorder-engine/internal/core/memstore"
	"reorder-engine/internal/observability"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := observability.InitTracing(context.Background(), nil, observability.TracingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.False(t, isSDK)
}

func TestInitTracing_ExportsEngineSpans(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := observability.InitTracing(context.Background(), nil, observability.TracingConfig{
		Enabled:     true,
		ServiceName: "reorder-engine-test",
		Exporter:    observability.ExporterStdout,
		SampleRatio: 1,
		Writer:      &out,
	})
	require.NoError(t, err)
	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, isSDK)

	store := memstore.New()
	onHand, usage := decimal.NewFromInt(1), decimal.NewFromInt(1)
	store.AddCandidate(core.ReorderCandidate{
		Rule: core.ReorderRule{
			OrganizationID: uuid.New(),
			SafetyDays:     decimal.NewFromInt(3),
			ReorderQty:     decimal.NewFromInt(5),
			AutomationMode: core.ModeManual,
		},
		OnHand:     &onHand,
		DailyUsage: &usage,
	})
	runner := core.NewReconciliationRunner(store, nil, core.DefaultEngineConfig(), nil)
	_, err = runner.Run(context.Background(), core.RunRequest{Mode: core.RunModeDryRun})
	require.NoError(t, err)
	_, err = core.NewDeliveryWatchdog(store, store, core.DefaultEngineConfig(), nil).Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), `"reconcile.run"`)
	assert.Contains(t, out.String(), `"reconcile.item"`)
	assert.Contains(t, out.String(), `"watchdog.run"`)
	assert.Contains(t, out.String(), "reorder-engine-test")
}

func TestNewTracerProvider_SampleRatioZeroDropsSpans(t *testing.T) {
	var out bytes.Buffer
	tp, err := observability.NewTracerProvider(context.Background(), observability.TracingConfig{
		Exporter: observability.ExporterStdout,
		Writer:   &out,
	})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
	assert.NotContains(t, out.String(), "dropped")
}

func TestNewTracerProvider_UnknownExporter(t *testing.T) {
	_, err := observability.NewTracerProvider(context.Background(), observability.TracingConfig{Exporter: "zipkin"})
	assert.ErrorContains(t, err, `unknown trace exporter "zipkin"`)
}

func TestParseHeaders(t *testing.T) {
	assert.Equal(t, map[string]string{"api-key": "abc", "x-team": "ops"}, observability.ParseHeaders(" api-key=abc, x-team=ops ,broken,=nokey"))
	assert.Nil(t, observability.ParseHeaders(""))
}

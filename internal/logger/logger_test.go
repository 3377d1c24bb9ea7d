package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactsSensitiveKeys(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	log.Info("notify", "api_key", "sk-123", "order_id", "abc", "Authorization", "Bearer x")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["api_key"])
	assert.Equal(t, "[REDACTED]", fields["Authorization"])
	assert.Equal(t, "abc", fields["order_id"])
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core)).With("run_id", "r1")

	log.Warn("item failed", "rule_id", "x")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0].ContextMap()["run_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"prod", "development", ""} {
		l, err := New(mode)
		require.NoError(t, err)
		l.Info("hello")
	}
}

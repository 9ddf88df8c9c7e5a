package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  int
	}{
		{"JSON output mode", true, VerbosityInfo},
		{"Console output mode", false, VerbosityUser},
		{"Console debug", false, VerbosityDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

			require.NoError(t, Initialize(tt.jsonOutput, tt.verbosity))
			require.NotNil(t, Logger)
			assert.True(t, Logger.Desugar().Core().Enabled(VerbosityToLevel(tt.verbosity)))
		})
	}
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(-1))
	assert.Equal(t, "Info (-v)", LevelName(1))
}

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	ctx := WithJobID(context.Background(), "job-42")
	ctx = WithComponent(ctx, "ixgest.entities")

	LoggerFromContext(ctx, base).Infow("merged", FieldEntity, "Paris")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-42", fields[FieldJobID])
	assert.Equal(t, "ixgest.entities", fields[FieldComponent])
	assert.Equal(t, "Paris", fields[FieldEntity])
}

func TestLoggerFromContextWithoutFields(t *testing.T) {
	base := zap.NewNop().Sugar()
	assert.Same(t, base, LoggerFromContext(context.Background(), base))
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(zapcore.AddSync(&buf), true, VerbosityInfo)

	log.Debugw("hidden")
	log.Infow("Aggregated named entities", FieldBucket, "nex-tags", FieldCount, 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "exactly one JSON line: %s", buf.String())
	assert.Equal(t, "Aggregated named entities", entry["msg"])
	assert.Equal(t, "nex-tags", entry[FieldBucket])
	assert.Equal(t, float64(3), entry[FieldCount])
}

func TestNewConsoleRespectsVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log := New(zapcore.AddSync(&buf), false, VerbosityUser)

	log.Infow("quiet")
	log.Warnw("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

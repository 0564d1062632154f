package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func resetLogger() {
	mu.Lock()
	global = nil
	mu.Unlock()
	once = sync.Once{}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{"json info", "info", "json", zapcore.InfoLevel, false},
		{"console debug", "debug", "console", zapcore.DebugLevel, false},
		{"json warn", "warn", "json", zapcore.WarnLevel, false},
		{"json error", "error", "json", zapcore.ErrorLevel, false},
		{"invalid level", "invalid", "json", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetLogger()
			err := Init(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, GetLevel())
		})
	}
}

func TestSetLevel(t *testing.T) {
	resetLogger()
	require.NoError(t, Init("info", "json"))

	tests := []struct {
		name      string
		level     string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{"to debug", "debug", zapcore.DebugLevel, false},
		{"to error", "error", zapcore.ErrorLevel, false},
		{"back to info", "info", zapcore.InfoLevel, false},
		{"invalid", "bogus", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SetLevel(tt.level)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, GetLevel())
			assert.Equal(t, tt.wantLevel, Level().Level())
		})
	}
}

func TestL_PanicsWithoutInit(t *testing.T) {
	resetLogger()
	assert.Panics(t, func() { L() })
}

func TestLoggingFunctions(t *testing.T) {
	resetLogger()
	require.NoError(t, Init("debug", "json"))

	assert.NotPanics(t, func() {
		Debug("test debug")
		Info("test info")
		Warn("test warn")
		Error("test error")
		S().Infow("sugared", "k", "v")
		With(zap.String("k", "v")).Info("child")
	})
}

func TestReplace_CapturesEntries(t *testing.T) {
	resetLogger()
	require.NoError(t, Init("info", "json"))

	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))

	Named("catalog").Info("refreshed", Company("Acme Ltd"), MasterType("Ledger"), RequestID("r-1"))
	restore()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "catalog", entries[0].LoggerName)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "Acme Ltd", ctx["company"])
	assert.Equal(t, "Ledger", ctx["master_type"])
	assert.Equal(t, "r-1", ctx["request_id"])

	// restored logger is the one built by Init
	assert.NotSame(t, zap.New(core), L())
}

func TestDocumentField(t *testing.T) {
	f := Document("Sales Invoice", "SINV-0001")
	assert.Equal(t, "document", f.Key)
	assert.Equal(t, "Sales Invoice/SINV-0001", f.String)
}

func TestSync(t *testing.T) {
	resetLogger()
	assert.NoError(t, Sync())

	require.NoError(t, Init("info", "json"))
	_ = Sync()
}

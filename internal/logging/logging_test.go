package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zapcore.InfoLevel},
		{in: "debug", want: zapcore.DebugLevel},
		{in: " WARN ", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger("nope")
	require.Error(t, err)
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := WithOperation(zap.New(core), "predict", "req-1")
	logger.Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "predict", fields["operation"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestWithOperationOmitsEmptyRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithOperation(zap.New(core), "startup", "").Info("hello")

	fields := logs.All()[0].ContextMap()
	_, ok := fields["request_id"]
	assert.False(t, ok)
}

func TestOperationErrorFormatting(t *testing.T) {
	base := errors.New("boom")

	err := Wrap("model.classify", "req-9", base)
	assert.Equal(t, "model.classify [req-9]: boom", err.Error())
	assert.ErrorIs(t, err, base)

	var opErr *OperationError
	require.ErrorAs(t, error(err), &opErr)
	assert.Equal(t, "model.classify", opErr.Operation)

	assert.Equal(t, "startup: boom", Wrap("startup", "", base).Error())
}

func TestOperationErrorFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	logger.Warn("failed", Wrap("usecase.normalize", "req-1", errors.New("bad bytes")).Fields(zap.String("filename", "a.dcm"))...)
	logger.Warn("failed", Wrap("model.load", "", errors.New("missing")).Fields()...)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]any{
		"operation":  "usecase.normalize",
		"request_id": "req-1",
		"error":      "bad bytes",
		"filename":   "a.dcm",
	}, entries[0].ContextMap())

	_, ok := entries[1].ContextMap()["request_id"]
	assert.False(t, ok)
	assert.Equal(t, "missing", entries[1].ContextMap()["error"])
}

package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name  string
		input []any
		want  int
	}{
		{"empty input", []any{}, 0},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}, 3},
		{"time type", []any{"t", now}, 1},
		{"duration", []any{"retry_delay", time.Second}, 1},
		{"bytes", []any{"data", []byte("xyz")}, 1},
		{"error only", []any{err}, 1},
		{"multiple errors", []any{err, errors.New("again")}, 2},
		{"mixed field types", []any{"msg", "ok", zap.String("x", "y"), "num", 42}, 3},
		{"odd number of args", []any{"key1", "val1", "key2"}, 2},
		{"non-string key", []any{123, "value", true, 99}, 2},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, 2},
		{"map value", []any{"a", map[string]string{"xyz": "123"}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)
			assert.Len(t, fields, tt.want)
			for _, f := range fields {
				assert.NotEmpty(t, f.Key, "field has empty key: %+v", f)
			}
		})
	}
}

func TestToFieldsTypedValues(t *testing.T) {
	fields := toFields("bank", "ota_1", "address", uint32(0x110000), "elapsed", 90*time.Second)
	require.Len(t, fields, 3)

	assert.Equal(t, zapcore.StringType, fields[0].Type)
	assert.Equal(t, zapcore.Uint32Type, fields[1].Type)
	assert.Equal(t, zapcore.DurationType, fields[2].Type)
}

func TestOptionsValidate(t *testing.T) {
	o := NewOptions()
	assert.Empty(t, o.Validate())

	o.Level = "loud"
	o.Format = "xml"
	assert.Len(t, o.Validate(), 2)
}

func TestSetLevel(t *testing.T) {
	l := NewLogger(&Options{Level: "info", Format: "json", OutputPaths: []string{"stderr"}}).(*zapLogger)
	assert.Equal(t, zapcore.InfoLevel, l.level.Level())

	l.level.SetLevel(zapcore.DebugLevel)
	assert.True(t, l.core.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, SetLevel("verbose"))
	assert.NoError(t, SetLevel("warn"))
}

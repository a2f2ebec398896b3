package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/gatekeeper/xerrors"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"default", DefaultConfig("gateway"), false},
		{"nil", nil, true},
		{"no service", &Config{Endpoint: "localhost:4317"}, true},
		{"no endpoint", &Config{ServiceName: "gw"}, true},
		{"bad sampler", &Config{ServiceName: "gw", Endpoint: "x", Sampler: 1.5}, true},
		{"bad batcher", &Config{ServiceName: "gw", Endpoint: "x", Batcher: "sync"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, xerrors.Is(err, xerrors.ErrInvalidInput))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDiscardProducesValidSpans(t *testing.T) {
	shutdown, err := Discard("gateway-test")
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span := Tracer().Start(context.Background(), SpanNameResilientCall("inventory"))
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
}

func TestSpanNameResilientCall(t *testing.T) {
	assert.Equal(t, "resilience.call", SpanNameResilientCall(""))
	assert.Equal(t, "resilience.call items", SpanNameResilientCall("items"))
}

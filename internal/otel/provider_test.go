package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

func TestNewDisabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.Equal(t, DefaultServiceName, p.ServiceName())
	assert.Len(t, p.InstanceID(), 36)
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewEnabledWithoutOutputs(t *testing.T) {
	_, err := New(Config{Enabled: true})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNewWithLogWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "dispatch-hue",
		Version:      "1.2.3",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
	})
	require.NoError(t, err)
	require.True(t, p.Enabled())
	require.NotNil(t, p.LoggerProvider())

	otelslog.NewLogger("dispatch", otelslog.WithLoggerProvider(p.LoggerProvider())).Info("Team moved", "teamId", "t-1")

	ctx := context.Background()
	require.NoError(t, p.Flush(ctx))
	out := buf.String()
	assert.Contains(t, out, "Team moved")
	assert.Contains(t, out, "dispatch-hue")
	assert.Contains(t, out, "1.2.3")
	assert.Contains(t, out, p.InstanceID())
	assert.NoError(t, p.Shutdown(ctx))
}

func TestNewWithEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{"host and port", "127.0.0.1:4318"},
		{"url", "http://127.0.0.1:4318/v1/logs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(Config{Enabled: true, Endpoint: tt.endpoint, Insecure: true})
			require.NoError(t, err)
			assert.True(t, p.Enabled())

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			assert.NoError(t, p.Shutdown(ctx))
		})
	}
}

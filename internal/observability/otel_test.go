package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSetupDisabled(t *testing.T) {
	tel, err := Setup(context.Background(), Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, tel.MeterProvider)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSetupRejectsBadConfig(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, err := Setup(context.Background(), Config{Enabled: true}, logger)
	assert.Error(t, err)

	_, err = Setup(context.Background(), Config{Enabled: true, Endpoint: "localhost:4317", SampleRatio: 1.5}, logger)
	assert.Error(t, err)
}

func TestNilShutdown(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}

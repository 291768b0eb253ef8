package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartDisabledReturnsNoopManager(t *testing.T) {
	mgr, err := Start(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mgr)
	assert.Nil(t, mgr.provider)

	// Shutdown on a no-op manager must be a safe no-op.
	assert.NoError(t, mgr.Shutdown(context.Background()))
}

func TestStartStdoutExporterBuildsRealProvider(t *testing.T) {
	mgr, err := Start(context.Background(), Config{
		Enabled:      true,
		Exporter:     "stdout",
		ServiceName:  "cubicler-test",
		SamplingRate: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, mgr.provider)
	defer mgr.Shutdown(context.Background())

	tracer := Tracer("cubicler.test")
	_, span := tracer.Start(context.Background(), "unit-test-span")
	span.End()
}

func TestStartUnknownExporterErrors(t *testing.T) {
	_, err := Start(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestShutdownOnNilManagerIsSafe(t *testing.T) {
	var mgr *Manager
	assert.NoError(t, mgr.Shutdown(context.Background()))
}

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "evm-test-runner", "", 1)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupRejectsBadInput(t *testing.T) {
	_, err := Setup(context.Background(), "svc", "http://localhost:4318", 2)
	assert.Error(t, err)
	_, err = Setup(context.Background(), "svc", "grpc://localhost:4317", 1)
	assert.Error(t, err)
}

func TestSpansWithoutProvider(t *testing.T) {
	ctx, span := Start(context.Background(), "test", AttrIdentity.String("g/s/t"))
	require.NotNil(t, ctx)
	End(span, errors.New("boom"))
}

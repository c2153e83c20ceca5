package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PauloFidalgo/cmov-5g/errors"
)

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, -1, c.maxReconnects)
	assert.Equal(t, 2*time.Second, c.reconnectWait)
}

func TestNewClientOptions(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithPingInterval(5*time.Second),
		WithTimeout(time.Second),
		WithClientName("kpmstream"),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, 5*time.Second, c.pingInterval)
	assert.Equal(t, time.Second, c.timeout)
	assert.Equal(t, "kpmstream", c.clientName)
}

func TestPublishWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = c.Publish("telemetry.kpm", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestFlushWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = c.Flush()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestWaitForConnectionTimeout(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = c.WaitForConnection(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
}

func TestCloseIdempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, StatusClosed, c.Status())
}

func TestConnectAfterClose(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusClosed, "closed"},
		{ConnectionStatus(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestDisconnectHandlerTracksStatus(t *testing.T) {
	var gotErr error
	c, err := NewClient("nats://localhost:4222",
		WithDisconnectCallback(func(e error) { gotErr = e }),
	)
	require.NoError(t, err)

	c.setStatus(StatusConnected)
	c.handleDisconnect(nil, assert.AnError)

	assert.Equal(t, StatusReconnecting, c.Status())
	assert.Equal(t, assert.AnError, gotErr)
}

func TestReconnectHandlerCountsReconnects(t *testing.T) {
	called := false
	c, err := NewClient("nats://localhost:4222",
		WithReconnectCallback(func() { called = true }),
	)
	require.NoError(t, err)

	c.handleReconnect(nil)
	assert.Equal(t, int32(1), c.Reconnects())
	assert.Equal(t, StatusConnected, c.Status())
	assert.True(t, called)
}

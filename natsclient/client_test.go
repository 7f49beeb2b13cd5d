package natsclient

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/rgranatodutra/wwebjs-api/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClientRequiresURL(t *testing.T) {
	c, err := NewClient("")

	assert.Nil(t, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrMissingConfig)
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithLogger(testLogger()))

	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsConnected())
	assert.Equal(t, int32(0), c.Reconnects())
}

func TestOptions(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("custom"),
		WithReconnectWait(5*time.Second),
		WithTimeout(time.Second),
		WithLogger(testLogger()))

	require.NoError(t, err)
	assert.Equal(t, "custom", c.name)
	assert.Equal(t, 5*time.Second, c.reconnectWait)
	assert.Equal(t, time.Second, c.timeout)
}

func TestPublishWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithLogger(testLogger()))
	require.NoError(t, err)

	err = c.Publish("wwebjs.events.test.qr-received", []byte("{}"))

	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrConnectionLost)
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestCloseWithoutConnectionIsNoop(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithLogger(testLogger()))
	require.NoError(t, err)

	c.Close()

	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

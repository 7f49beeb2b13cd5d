// Package natsclient manages the NATS connection used for event publishing:
// lifecycle, reconnect handling and status reporting in one place so the
// emitters can stay connection-agnostic.
package natsclient

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rgranatodutra/wwebjs-api/errors"
)

// ConnectionStatus represents the state of the NATS connection.
type ConnectionStatus int

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Client manages one NATS connection.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	conn       *nats.Conn
	status     atomic.Value // ConnectionStatus
	reconnects atomic.Int32

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithName sets the client name reported to the server.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnectWait sets the delay between reconnect attempts.
func WithReconnectWait(wait time.Duration) Option {
	return func(c *Client) { c.reconnectWait = wait }
}

// WithTimeout sets the initial connect timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// NewClient creates a client for the given server URL. The connection is not
// opened until Connect.
func NewClient(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient",
			"NATS URL is required")
	}

	c := &Client{
		url:           url,
		name:          "wwebjs-api",
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "natsclient")
	c.status.Store(StatusDisconnected)

	return c, nil
}

// Connect opens the connection. Reconnection after drops is handled by the
// underlying library; status transitions are tracked through its callbacks.
func (c *Client) Connect(ctx context.Context) error {
	c.status.Store(StatusConnecting)

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := nats.Connect(c.url,
		nats.Name(c.name),
		nats.Timeout(timeout),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(StatusReconnecting)
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.status.Store(StatusConnected)
			c.reconnects.Add(1)
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(StatusDisconnected)
			c.logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		c.status.Store(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "connecting to "+c.url)
	}

	c.conn = conn
	c.status.Store(StatusConnected)
	c.logger.Info("nats connected", "url", conn.ConnectedUrl())
	return nil
}

// Publish sends data to the subject. Satisfies the emitter's Publisher
// contract.
func (c *Client) Publish(subject string, data []byte) error {
	if c.conn == nil {
		return errors.WrapTransient(errors.ErrConnectionLost, "Client", "Publish",
			"no connection for "+subject)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publishing to "+subject)
	}
	return nil
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	if s, ok := c.status.Load().(ConnectionStatus); ok {
		return s
	}
	return StatusDisconnected
}

// Reconnects returns how many times the connection was re-established.
func (c *Client) Reconnects() int32 {
	return c.reconnects.Load()
}

// IsConnected reports whether the connection is currently usable.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed, closing hard", "error", err)
		c.conn.Close()
	}
	c.status.Store(StatusDisconnected)
}

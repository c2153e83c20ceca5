// Package natsclient manages the NATS connection used for publishing
// completed telemetry records. Reconnection is delegated to the nats.go
// client; this package tracks connection status and exposes a small
// publish surface.
package natsclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/PauloFidalgo/cmov-5g/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
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
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client wraps a core NATS connection with status tracking. Safe for
// concurrent use; publishing while disconnected returns ErrNoConnection
// instead of buffering silently.
type Client struct {
	url    string
	status atomic.Value // ConnectionStatus
	logger Logger

	conn *nats.Conn

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string

	onDisconnect func(error)
	onReconnect  func()

	reconnects atomic.Int32

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient creates a NATS client for url with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		logger:        &defaultLogger{},
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.status.Store(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy returns true if the connection is established
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Reconnects returns the number of reconnections observed
func (c *Client) Reconnects() int32 {
	return c.reconnects.Load()
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(s)
}

// Connect establishes the connection. The nats.go client owns reconnection
// from here on; status transitions are driven by its handlers.
func (c *Client) Connect(_ context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "Client", "Connect", "connect after close")
	}

	c.setStatus(StatusConnecting)
	c.logger.Printf("Connecting to NATS at %s", c.url)

	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "connect to NATS")
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	c.logger.Printf("Connected to NATS at %s", c.url)
	return nil
}

// WaitForConnection blocks until the connection is healthy or ctx expires
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(errors.ErrConnectionTimeout,
				"Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

// Publish sends data on subject
func (c *Client) Publish(subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "publish message")
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish message")
	}
	return nil
}

// Flush waits until all published messages have been processed by the server
func (c *Client) Flush() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Flush", "flush connection")
	}
	if err := conn.Flush(); err != nil {
		return errors.WrapTransient(err, "Client", "Flush", "flush connection")
	}
	return nil
}

// Close drains the connection so in-flight messages are delivered, then
// closes it. Idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.setStatus(StatusClosed)
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.WrapTransient(err, "Client", "Close", "drain connection")
	}
	return nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	if err != nil {
		c.logger.Errorf("NATS disconnected: %v", err)
	}
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.reconnects.Add(1)
	c.setStatus(StatusConnected)
	url := c.url
	if conn != nil {
		url = conn.ConnectedUrl()
	}
	c.logger.Printf("NATS reconnected to %s", url)
	if c.onReconnect != nil {
		c.onReconnect()
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	if !c.closed.Load() {
		c.setStatus(StatusDisconnected)
		c.logger.Errorf("NATS connection closed unexpectedly")
	}
}

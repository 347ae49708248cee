// Package tcpclient provides an event-driven TCP client that reports state
// changes, received data and errors through registered handlers.
//
// Received data is delivered in arrival order on the client's read
// goroutine, so a handler may rely on seeing messages one at a time.
package tcpclient

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-lobby/logger"
)

// ConnectionState represents the current state of the TCP connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Connected                           // Successfully connected
	Closed                              // Client has been closed and cannot reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const (
	lengthPrefixSize = 4

	// DefaultMaxMessageSize caps length-prefixed messages.
	DefaultMaxMessageSize = 16 * 1024 * 1024
)

var (
	ErrClosed           = errors.New("tcpclient: client is closed")
	ErrAlreadyConnected = errors.New("tcpclient: already connected or connecting")
	ErrNotConnected     = errors.New("tcpclient: not connected")
	ErrMessageTooLarge  = errors.New("tcpclient: message exceeds size limit")
	ErrShortMessage     = errors.New("tcpclient: message shorter than its length prefix")
)

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address (e.g. "host:port")
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the state change was due to an error
}

// DataReceivedEvent is emitted for each chunk or message read.
type DataReceivedEvent struct {
	Data      []byte    // The received bytes, owned by the handler
	Timestamp time.Time // When the data was received
}

// ErrorEvent is emitted when a read, write, or connection error occurs.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

type (
	ConnectionStateHandler func(event ConnectionStateEvent)
	DataReceivedHandler    func(event DataReceivedEvent)
	ErrorHandler           func(event ErrorEvent)
)

// Config holds configuration for the TCP client.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// ReadBufferSize is the size of the read buffer when DataLengthBasedRead is false.
	ReadBufferSize int
	// WriteTimeout is the max duration for a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout is the max duration to wait for read data; 0 means no timeout.
	ReadTimeout time.Duration
	// ConnectionTimeout is the max duration for establishing a new connection.
	ConnectionTimeout time.Duration
	// DataLengthBasedRead, when true, reads messages framed by a 4-byte
	// little-endian length that counts the prefix itself. Each message is
	// delivered whole, prefix included.
	DataLengthBasedRead bool
	// MaxMessageSize bounds length-prefixed messages; 0 means DefaultMaxMessageSize.
	MaxMessageSize uint32
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with defaults: ReadBufferSize 4096, WriteTimeout 10s,
//     ConnectionTimeout 10s, ReadTimeout 0, DataLengthBasedRead false.
func DefaultConfig(address string) Config {
	return Config{
		Address:             address,
		ReadBufferSize:      4096,
		WriteTimeout:        10 * time.Second,
		ReadTimeout:         0,
		ConnectionTimeout:   10 * time.Second,
		DataLengthBasedRead: false,
		MaxMessageSize:      DefaultMaxMessageSize,
	}
}

// Client is a TCP client that drives I/O and connection lifecycle via
// events. It is safe for concurrent use.
//
// Handlers run synchronously: data and read errors on the read goroutine,
// state changes on whichever goroutine caused them. A handler may call
// Send, Disconnect or Close.
type Client struct {
	config Config
	log    logger.Logger

	mu     sync.RWMutex
	conn   net.Conn
	state  ConnectionState
	closed bool
	done   chan struct{}

	onConnectionState ConnectionStateHandler
	onDataReceived    DataReceivedHandler
	onError           ErrorHandler

	writeMu sync.Mutex
}

// New creates a client in the Disconnected state.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//   - log: Logger; nil discards output
//
// Returns:
//   - A new *Client; call Close when done to release resources.
func New(config Config, log logger.Logger) *Client {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 4096
	}

	return &Client{
		config: config,
		log:    logger.OrNop(log).With(logger.Field{Key: "component", Value: "tcpclient"}, logger.Field{Key: "addr", Value: config.Address}),
		state:  Disconnected,
	}
}

// OnConnectionState registers the handler for connection state changes.
// Repeated calls replace the previous handler; nil clears it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnDataReceived registers the handler for incoming data.
// Repeated calls replace the previous handler; nil clears it.
func (c *Client) OnDataReceived(handler DataReceivedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDataReceived = handler
}

// OnError registers the handler for read, write, and connection errors.
// Repeated calls replace the previous handler; nil clears it.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the configured address and starts the read goroutine.
//
// Parameters:
//   - ctx: Bounds the dial together with ConnectionTimeout
//
// Returns:
//   - ErrClosed, ErrAlreadyConnected, or the dial error
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emitConnectionState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return fmt.Errorf("tcpclient: dial %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	done := make(chan struct{})
	c.conn = conn
	c.done = done
	c.state = Connected
	c.mu.Unlock()

	c.log.Debug("connected")
	c.emitConnectionState(Connected, nil)

	go c.readLoop(conn, done)
	return nil
}

// Disconnect closes the current connection. Connect may be called again.
// Safe to call when already disconnected or closed.
//
// Returns:
//   - nil if there was no connection, or the error from closing it.
func (c *Client) Disconnect() error {
	return c.dropConn(nil, nil)
}

// Close shuts down the client. Later calls return nil.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = Closed
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.emitConnectionState(Closed, nil)

	return nil
}

// Done returns a channel closed when the read goroutine of the current
// connection exits. It returns nil before the first successful Connect.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Send writes data to the connection. Concurrent calls do not interleave.
// A write error drops the connection.
//
// Parameters:
//   - data: Bytes to send; not modified
//
// Returns:
//   - ErrNotConnected, or the write error
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	if _, err := conn.Write(data); err != nil {
		c.emitError(err)
		_ = c.dropConn(conn, err)
		return err
	}

	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// RemoteAddr returns the peer address of the current connection, or an
// empty string when disconnected.
func (c *Client) RemoteAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// dropConn closes the active connection if it is still want, or any
// connection when want is nil, and moves to Disconnected.
func (c *Client) dropConn(want net.Conn, cause error) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.closed || (want != nil && conn != want) {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	err := conn.Close()
	c.emitConnectionState(Disconnected, cause)
	return err
}

func (c *Client) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)

	var buffer []byte
	if !c.config.DataLengthBasedRead {
		buffer = make([]byte, c.config.ReadBufferSize)
	}

	for {
		if err := c.setReadDeadline(conn); err != nil {
			c.readFailed(conn, err)
			return
		}

		var data []byte
		var err error
		if c.config.DataLengthBasedRead {
			data, err = c.readMessage(conn)
		} else {
			var n int
			n, err = conn.Read(buffer)
			if n > 0 {
				data = make([]byte, n)
				copy(data, buffer[:n])
			}
		}

		if len(data) > 0 {
			c.emitDataReceived(data)
		}

		if err != nil {
			c.readFailed(conn, err)
			return
		}
	}
}

func (c *Client) setReadDeadline(conn net.Conn) error {
	if c.config.ReadTimeout > 0 {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}

	return conn.SetReadDeadline(time.Time{})
}

// readMessage reads one length-prefixed message. Zero-length prefixes are
// keepalives and are skipped.
func (c *Client) readMessage(conn net.Conn) ([]byte, error) {
	header := make([]byte, lengthPrefixSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return nil, err
		}

		size := binary.LittleEndian.Uint32(header)
		switch {
		case size == 0:
			continue
		case size < lengthPrefixSize:
			return nil, fmt.Errorf("%w: %d", ErrShortMessage, size)
		case size > c.config.MaxMessageSize:
			return nil, fmt.Errorf("%w: %d", ErrMessageTooLarge, size)
		}

		packet := make([]byte, size)
		copy(packet, header)
		if _, err := io.ReadFull(conn, packet[lengthPrefixSize:]); err != nil {
			return nil, err
		}

		return packet, nil
	}
}

func (c *Client) readFailed(conn net.Conn, err error) {
	c.mu.RLock()
	current := c.conn == conn && !c.closed
	c.mu.RUnlock()

	// Errors caused by our own Disconnect or Close are not reported.
	if !current {
		return
	}

	if !errors.Is(err, io.EOF) {
		c.log.Warn("read failed", logger.Err(err))
		c.emitError(err)
	}
	_ = c.dropConn(conn, err)
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.emitConnectionState(state, err)
}

func (c *Client) emitConnectionState(state ConnectionState, err error) {
	c.mu.RLock()
	handler := c.onConnectionState
	c.mu.RUnlock()

	if handler != nil {
		handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitDataReceived(data []byte) {
	c.mu.RLock()
	handler := c.onDataReceived
	c.mu.RUnlock()

	if handler != nil {
		handler(DataReceivedEvent{Data: data, Timestamp: time.Now()})
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}

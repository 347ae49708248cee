// Package tcpserver accepts lobby client connections, binds each one to a
// session record and feeds inbound bytes to a protocol Handler.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/safemap"
	"github.com/cyberinferno/go-lobby/session"
)

const defaultReadBufferSize = 4096

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("tcpserver: already running")

// ErrUnknownConnection is returned by SendTo for an id with no connection.
var ErrUnknownConnection = errors.New("tcpserver: unknown connection")

// SessionRegistry creates the session record for an accepted connection.
// sessionmanager.Manager implements it.
type SessionRegistry interface {
	NewSession(conn net.Conn) *session.SessionData
}

// Handler implements the protocol on top of a Connection.
type Handler interface {
	// HandleConnect runs once before the first read. An error closes the
	// connection.
	HandleConnect(c *Connection) error

	// HandleData runs after new bytes were appended to the session's
	// receive buffer. An error closes the connection.
	HandleData(c *Connection) error
}

// CloseHandler is implemented by handlers that keep per-connection state.
// HandleClose runs once, after the socket is closed and before the session
// record is destroyed.
type CloseHandler interface {
	HandleClose(c *Connection)
}

// TCPServer accepts connections and runs one read loop per connection.
type TCPServer struct {
	Logger         logger.Logger
	Name           string
	Addr           string
	Registry       SessionRegistry
	Handler        Handler
	ReadBufferSize int

	listener    net.Listener
	connections *safemap.SafeMap[session.ID, *Connection]
	running     atomic.Bool
	wg          sync.WaitGroup
	mu          sync.Mutex
}

// New creates a server. Start must be called to begin accepting.
//
// Parameters:
//   - name: Server name used in log entries
//   - addr: Listen address, e.g. ":7234"
//   - registry: Creates the session record per connection
//   - handler: The protocol handler
//   - log: Logger; nil discards output
//
// Returns:
//   - A new TCPServer
func New(name, addr string, registry SessionRegistry, handler Handler, log logger.Logger) *TCPServer {
	return &TCPServer{
		Logger:         logger.OrNop(log).With(logger.Field{Key: "component", Value: "tcpserver"}),
		Name:           name,
		Addr:           addr,
		Registry:       registry,
		Handler:        handler,
		ReadBufferSize: defaultReadBufferSize,
		connections:    safemap.NewSafeMap[session.ID, *Connection](),
	}
}

// Start binds Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - ErrAlreadyRunning, or an error if listening on Addr fails
func (s *TCPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("tcpserver: %s failed to start: %w", s.Name, err)
	}

	s.listener = ln
	s.running.Store(true)
	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// ListenAddr returns the bound address, or nil before Start.
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop closes the listener and every connection, then waits for all read
// loops to return. Safe to call when the server is not running.
func (s *TCPServer) Stop() {
	s.mu.Lock()
	if !s.running.Swap(false) {
		s.mu.Unlock()
		return
	}
	_ = s.listener.Close()
	s.mu.Unlock()

	s.connections.Range(func(_ session.ID, c *Connection) bool {
		_ = c.Close()
		return true
	})

	s.wg.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// Connection returns the live connection of a session.
func (s *TCPServer) Connection(id session.ID) (*Connection, bool) {
	return s.connections.Load(id)
}

// ConnectionCount returns the number of open connections.
func (s *TCPServer) ConnectionCount() int {
	return s.connections.Len()
}

// SendTo writes data to the connection of session id.
func (s *TCPServer) SendTo(id session.ID, data []byte) error {
	c, ok := s.connections.Load(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, id)
	}

	return c.Send(data)
}

func (s *TCPServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err))
			return
		}

		c := newConnection(s, conn, s.Registry.NewSession(conn))
		s.connections.Store(c.ID(), c)
		if !s.running.Load() {
			_ = c.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.Handle()
		}()
	}
}

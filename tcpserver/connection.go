package tcpserver

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/session"
)

// Connection is one accepted client. It owns the socket and the session
// record created for it.
type Connection struct {
	server  *TCPServer
	conn    net.Conn
	session *session.SessionData
	log     logger.Logger

	sendMu    sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func newConnection(server *TCPServer, conn net.Conn, s *session.SessionData) *Connection {
	return &Connection{
		server:  server,
		conn:    conn,
		session: s,
		log: server.Logger.With(
			logger.Field{Key: "session", Value: s.ID()},
			logger.Field{Key: "addr", Value: s.ClientAddr()},
		),
	}
}

// ID returns the session id of the connection.
func (c *Connection) ID() session.ID {
	return c.session.ID()
}

// Session returns the session record bound to the connection.
func (c *Connection) Session() *session.SessionData {
	return c.session
}

// Logger returns a logger carrying the session id and peer address.
func (c *Connection) Logger() logger.Logger {
	return c.log
}

// Handle runs the read loop until the peer disconnects, a read fails or the
// handler returns an error. The connection is closed on return.
func (c *Connection) Handle() {
	defer c.Close()

	if err := c.server.Handler.HandleConnect(c); err != nil {
		c.log.Warn("connect rejected", logger.Err(err))
		return
	}

	size := c.server.ReadBufferSize
	if size <= 0 {
		size = defaultReadBufferSize
	}
	buf := make([]byte, size)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			_, _ = c.session.ReceiveBuffer().Write(buf[:n])
			c.session.ResetActivityTimer()

			if herr := c.server.Handler.HandleData(c); herr != nil {
				c.log.Info("closing connection", logger.Err(herr))
				return
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Debug("read failed", logger.Err(err))
			}
			return
		}
	}
}

// Closed reports whether Close has started. It turns true before a
// CloseHandler is notified.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// Send writes data to the peer. Concurrent calls do not interleave.
func (c *Connection) Send(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	_, err := c.conn.Write(data)
	return err
}

// Close closes the socket, unregisters the connection and destroys the
// session record. Later calls do nothing.
// A Handler implementing CloseHandler is notified in between.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
		c.server.connections.Delete(c.ID())
		if ch, ok := c.server.Handler.(CloseHandler); ok {
			ch.HandleClose(c)
		}
		c.session.Close()
	})

	return err
}

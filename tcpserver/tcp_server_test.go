package tcpserver

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/go-lobby/session"
	"github.com/cyberinferno/go-lobby/sessionmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineHandler echoes every complete line back to the peer and closes the
// connection on "quit".
type lineHandler struct {
	mu        sync.Mutex
	connected []session.ID
	rejectAll bool
}

func (h *lineHandler) HandleConnect(c *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rejectAll {
		return errors.New("rejected")
	}
	h.connected = append(h.connected, c.ID())
	return nil
}

func (h *lineHandler) HandleData(c *Connection) error {
	buf := c.Session().ReceiveBuffer()
	for {
		data := buf.Bytes()
		idx := -1
		for i, b := range data {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}

		line, _ := buf.Next(idx + 1)
		if string(line) == "quit\n" {
			return errors.New("peer quit")
		}
		if err := c.Send(line); err != nil {
			return err
		}
	}
}

func startServer(t *testing.T, h Handler) (*TCPServer, *sessionmanager.Manager) {
	t.Helper()

	mgr := sessionmanager.New(sessionmanager.DefaultConfig(), nil, nil)
	srv := New("test", "127.0.0.1:0", mgr, h, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return srv, mgr
}

func dial(t *testing.T, srv *TCPServer) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", srv.ListenAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestTCPServer(t *testing.T) {
	t.Run("echoes complete lines and registers a session", func(t *testing.T) {
		h := &lineHandler{}
		srv, mgr := startServer(t, h)
		conn := dial(t, srv)

		_, err := conn.Write([]byte("hel"))
		require.NoError(t, err)
		_, err = conn.Write([]byte("lo\nworld\n"))
		require.NoError(t, err)

		r := bufio.NewReader(conn)
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "hello\n", line)
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "world\n", line)

		assert.Equal(t, 1, mgr.Count())
		assert.Equal(t, 1, srv.ConnectionCount())
	})

	t.Run("handler error closes the connection and destroys the record", func(t *testing.T) {
		srv, mgr := startServer(t, &lineHandler{})
		conn := dial(t, srv)

		_, err := conn.Write([]byte("quit\n"))
		require.NoError(t, err)

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = conn.Read(make([]byte, 1))
		assert.Error(t, err)

		assert.Eventually(t, func() bool {
			return mgr.Count() == 0 && srv.ConnectionCount() == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("peer disconnect destroys the record", func(t *testing.T) {
		srv, mgr := startServer(t, &lineHandler{})
		conn := dial(t, srv)

		require.Eventually(t, func() bool { return mgr.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
		_ = conn.Close()

		assert.Eventually(t, func() bool { return mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("rejected connect closes immediately", func(t *testing.T) {
		srv, mgr := startServer(t, &lineHandler{rejectAll: true})
		conn := dial(t, srv)

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := conn.Read(make([]byte, 1))
		assert.Error(t, err)
		assert.Eventually(t, func() bool { return mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("send to a session by id", func(t *testing.T) {
		h := &lineHandler{}
		srv, _ := startServer(t, h)
		conn := dial(t, srv)

		var id session.ID
		require.Eventually(t, func() bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			if len(h.connected) == 0 {
				return false
			}
			id = h.connected[0]
			return true
		}, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, srv.SendTo(id, []byte("notice\n")))
		line, err := bufio.NewReader(conn).ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "notice\n", line)

		assert.ErrorIs(t, srv.SendTo(id+100, []byte("x")), ErrUnknownConnection)
	})

	t.Run("stop closes every connection", func(t *testing.T) {
		mgr := sessionmanager.New(sessionmanager.DefaultConfig(), nil, nil)
		srv := New("test", "127.0.0.1:0", mgr, &lineHandler{}, nil)
		require.NoError(t, srv.Start())
		assert.ErrorIs(t, srv.Start(), ErrAlreadyRunning)

		conns := make([]net.Conn, 3)
		for i := range conns {
			conns[i] = dial(t, srv)
		}
		require.Eventually(t, func() bool { return mgr.Count() == 3 }, 2*time.Second, 10*time.Millisecond)

		srv.Stop()

		assert.Equal(t, 0, mgr.Count())
		assert.Equal(t, 0, srv.ConnectionCount())
		for _, c := range conns {
			_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, err := c.Read(make([]byte, 1))
			assert.Error(t, err)
		}

		assert.NotPanics(t, srv.Stop)
	})

	t.Run("start fails on a bad address", func(t *testing.T) {
		srv := New("test", "256.0.0.1:-1", sessionmanager.New(sessionmanager.DefaultConfig(), nil, nil), &lineHandler{}, nil)
		assert.Error(t, srv.Start())
		assert.Nil(t, srv.ListenAddr())
	})
}

func TestConnectionSendConcurrent(t *testing.T) {
	t.Run("concurrent sends do not interleave", func(t *testing.T) {
		srv, _ := startServer(t, &lineHandler{})
		client := dial(t, srv)

		var c *Connection
		require.Eventually(t, func() bool {
			srv.connections.Range(func(_ session.ID, conn *Connection) bool {
				c = conn
				return false
			})
			return c != nil
		}, 2*time.Second, 10*time.Millisecond)

		const writers, lines = 8, 50
		msg := []byte("0123456789abcdefghijklmnopqrstuvwxyz\n")

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < lines; j++ {
					_ = c.Send(msg)
				}
			}()
		}

		r := bufio.NewReader(client)
		_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
		for i := 0; i < writers*lines; i++ {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			require.Equal(t, string(msg), line)
		}
		wg.Wait()
	})

	t.Run("close is idempotent", func(t *testing.T) {
		srv, mgr := startServer(t, &lineHandler{})
		dial(t, srv)

		var c *Connection
		require.Eventually(t, func() bool {
			srv.connections.Range(func(_ session.ID, conn *Connection) bool {
				c = conn
				return false
			})
			return c != nil
		}, 2*time.Second, 10*time.Millisecond)

		assert.False(t, c.Closed())
		assert.NoError(t, c.Close())
		assert.NoError(t, c.Close())
		assert.True(t, c.Closed())
		assert.Equal(t, session.StateClosed, c.Session().State())
		assert.Eventually(t, func() bool { return mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}

type closeTracker struct {
	lineHandler
	mu     sync.Mutex
	closed []session.ID
}

func (h *closeTracker) HandleClose(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, c.ID())
}

func TestCloseHandler(t *testing.T) {
	t.Run("notified once per connection", func(t *testing.T) {
		h := &closeTracker{}
		srv, _ := startServer(t, h)
		conn := dial(t, srv)

		var c *Connection
		require.Eventually(t, func() bool {
			srv.connections.Range(func(_ session.ID, cc *Connection) bool {
				c = cc
				return false
			})
			return c != nil
		}, 2*time.Second, 10*time.Millisecond)

		_ = conn.Close()
		assert.Eventually(t, func() bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			return len(h.closed) == 1
		}, 2*time.Second, 10*time.Millisecond)

		_ = c.Close()
		h.mu.Lock()
		defer h.mu.Unlock()
		assert.Equal(t, []session.ID{c.ID()}, h.closed)
	})
}

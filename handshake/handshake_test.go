package handshake

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cyberinferno/go-lobby/sasl"
	"github.com/cyberinferno/go-lobby/serverdb"
	"github.com/cyberinferno/go-lobby/session"
	"github.com/cyberinferno/go-lobby/sessionmanager"
	"github.com/cyberinferno/go-lobby/tcpserver"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lobby struct {
	addr     string
	db       *serverdb.RedisDB
	mgr      *sessionmanager.Manager
	hs       *Server
	srv      *tcpserver.TCPServer
	playerID uint32
}

func startLobby(t *testing.T, mechName string) *lobby {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := serverdb.NewRedisDB(client, nil)
	cfg := serverdb.DefaultConfig()
	cfg.EncryptionKey = "handshake-test-key"
	require.NoError(t, db.Init(cfg))

	mgr := sessionmanager.New(sessionmanager.DefaultConfig(), db, nil)
	hs := NewServer(db, mgr, sasl.NewContext(), mechName, nil)
	db.SetCallbacks(hs, mgr)
	require.NoError(t, db.Start(context.Background()))
	t.Cleanup(func() { _ = db.Stop() })

	srv := tcpserver.New("lobby", "127.0.0.1:0", mgr, hs, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	playerID, err := db.CreatePlayer(context.Background(), "alice", "s3cret")
	require.NoError(t, err)

	return &lobby{addr: srv.ListenAddr().String(), db: db, mgr: mgr, hs: hs, srv: srv, playerID: playerID}
}

func login(t *testing.T, l *lobby, user, password string) (*Client, error) {
	t.Helper()

	c := NewClient(l.addr, sasl.NewContext(), nil)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return c, c.Login(ctx, user, password)
}

func (l *lobby) established() []*session.SessionData {
	var out []*session.SessionData
	l.mgr.Range(func(s *session.SessionData) bool {
		if s.State() == session.StateEstablished {
			out = append(out, s)
		}
		return true
	})
	return out
}

func TestLogin(t *testing.T) {
	for _, mech := range []string{sasl.MechSCRAMSHA1, sasl.MechSCRAMSHA256} {
		t.Run(mech+" login establishes both sides", func(t *testing.T) {
			l := startLobby(t, mech)

			c, err := login(t, l, "alice", "s3cret")
			require.NoError(t, err)
			assert.Equal(t, session.StateEstablished, c.Session().State())
			assert.False(t, c.Session().HasAuthSession())
			assert.NotEmpty(t, c.Session().ClientAddr())

			require.Eventually(t, func() bool { return len(l.established()) == 1 }, 2*time.Second, 10*time.Millisecond)
			s := l.established()[0]
			assert.Equal(t, l.playerID, s.PlayerID())
			assert.False(t, s.HasAuthSession())
			assert.Equal(t, 0, l.hs.PendingLogins())
		})
	}

	t.Run("wrong password is rejected and the session closed", func(t *testing.T) {
		l := startLobby(t, sasl.MechSCRAMSHA1)

		_, err := login(t, l, "alice", "wrong")
		assert.ErrorIs(t, err, ErrAuthRejected)
		assert.Eventually(t, func() bool { return l.mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("unknown player is rejected before the exchange", func(t *testing.T) {
		l := startLobby(t, sasl.MechSCRAMSHA1)

		c, err := login(t, l, "mallory", "s3cret")
		assert.ErrorIs(t, err, ErrLoginRejected)
		assert.Equal(t, session.StateAuthenticating, c.Session().State())
		assert.Eventually(t, func() bool { return l.mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("second login of the same player is refused", func(t *testing.T) {
		l := startLobby(t, sasl.MechSCRAMSHA1)

		_, err := login(t, l, "alice", "s3cret")
		require.NoError(t, err)

		_, err = login(t, l, "alice", "s3cret")
		assert.ErrorIs(t, err, ErrAuthRejected)
		assert.Eventually(t, func() bool { return l.mgr.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("established hook runs", func(t *testing.T) {
		l := startLobby(t, sasl.MechSCRAMSHA1)
		got := make(chan session.ID, 1)
		l.hs.OnEstablished = func(c *tcpserver.Connection) { got <- c.ID() }

		_, err := login(t, l, "alice", "s3cret")
		require.NoError(t, err)

		select {
		case id := <-got:
			assert.NotZero(t, id)
		case <-time.After(2 * time.Second):
			t.Fatal("OnEstablished not called")
		}
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()
		go func() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			_, _ = conn.Read(make([]byte, 64))
			time.Sleep(time.Second)
		}()

		c := NewClient(ln.Addr().String(), sasl.NewContext(), nil)
		defer c.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.Login(ctx, "alice", "s3cret"), context.DeadlineExceeded)
	})
}

func TestNotifyIdle(t *testing.T) {
	t.Run("established client receives the seconds left", func(t *testing.T) {
		l := startLobby(t, sasl.MechSCRAMSHA1)
		c, err := login(t, l, "alice", "s3cret")
		require.NoError(t, err)

		require.Eventually(t, func() bool { return len(l.established()) == 1 }, 2*time.Second, 10*time.Millisecond)
		conn, ok := l.srv.Connection(l.established()[0].ID())
		require.True(t, ok)
		require.NoError(t, l.hs.NotifyIdle(conn, 90*time.Second+500*time.Millisecond))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f, err := c.next(ctx)
		require.NoError(t, err)

		secs, err := IdleNoticeSeconds(f)
		require.NoError(t, err)
		assert.Equal(t, uint32(90), secs)
	})

	t.Run("negative remaining is sent as zero", func(t *testing.T) {
		l := startLobby(t, sasl.MechSCRAMSHA1)
		c, err := login(t, l, "alice", "s3cret")
		require.NoError(t, err)

		require.Eventually(t, func() bool { return len(l.established()) == 1 }, 2*time.Second, 10*time.Millisecond)
		conn, ok := l.srv.Connection(l.established()[0].ID())
		require.True(t, ok)
		require.NoError(t, l.hs.NotifyIdle(conn, -time.Second))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f, err := c.next(ctx)
		require.NoError(t, err)

		secs, err := IdleNoticeSeconds(f)
		require.NoError(t, err)
		assert.Zero(t, secs)
	})
}

func TestServerProtocolErrors(t *testing.T) {
	raw := func(t *testing.T, l *lobby, data []byte) []byte {
		t.Helper()

		conn, err := net.Dial("tcp", l.addr)
		require.NoError(t, err)
		defer conn.Close()

		_, err = conn.Write(data)
		require.NoError(t, err)

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got []byte
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			got = append(got, buf[:n]...)
			if err != nil {
				return got
			}
		}
	}

	t.Run("auth data before hello closes the connection", func(t *testing.T) {
		l := startLobby(t, sasl.MechSCRAMSHA1)
		frame, _ := EncodeFrame(FrameAuthData, []byte("n,,n=alice,r=x"))

		assert.Empty(t, raw(t, l, frame))
		assert.Eventually(t, func() bool { return l.mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("empty name gets a failed result", func(t *testing.T) {
		l := startLobby(t, sasl.MechSCRAMSHA1)
		frame, _ := EncodeFrame(FrameHello, nil)

		assert.Equal(t, resultFrame(false), raw(t, l, frame))
	})

	t.Run("garbage length closes the connection", func(t *testing.T) {
		l := startLobby(t, sasl.MechSCRAMSHA1)

		assert.Empty(t, raw(t, l, []byte{0xff, 0xff, 0xff, 0x7f, 1}))
		assert.Eventually(t, func() bool { return l.mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("hello twice closes the connection", func(t *testing.T) {
		l := startLobby(t, sasl.MechSCRAMSHA1)
		hello, _ := EncodeFrame(FrameHello, []byte("mallory"))

		got := raw(t, l, append(append([]byte{}, hello...), hello...))
		assert.NotContains(t, string(got), string(resultFrame(true)))
		assert.Eventually(t, func() bool { return l.mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}

// silentDB records login requests and never answers them.
type silentDB struct {
	mu       sync.Mutex
	requests []uint32
}

func (d *silentDB) Init(serverdb.Config) error                                 { return nil }
func (d *silentDB) Start(context.Context) error                                { return nil }
func (d *silentDB) Stop() error                                                { return nil }
func (d *silentDB) SetCallbacks(serverdb.LoginCallback, serverdb.GameCallback) {}
func (d *silentDB) PlayerLogout(uint32)                                        {}
func (d *silentDB) AsyncCreateGame(uint32, string)                             {}
func (d *silentDB) SetGamePlayerPlace(uint32, uint32, uint)                    {}
func (d *silentDB) EndGame(uint32)                                             {}

func (d *silentDB) AsyncPlayerLogin(requestID uint32, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, requestID)
}

func (d *silentDB) lastRequest() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return 0, false
	}
	return d.requests[len(d.requests)-1], true
}

func TestLoginAnsweredAfterDisconnect(t *testing.T) {
	setup := func(t *testing.T) (*Server, *sessionmanager.Manager, *silentDB, *tcpserver.Connection, uint32) {
		t.Helper()

		db := &silentDB{}
		mgr := sessionmanager.New(sessionmanager.DefaultConfig(), db, nil)
		hs := NewServer(db, mgr, sasl.NewContext(), "", nil)
		srv := tcpserver.New("lobby", "127.0.0.1:0", mgr, hs, nil)
		require.NoError(t, srv.Start())
		t.Cleanup(srv.Stop)

		conn, err := net.Dial("tcp", srv.ListenAddr().String())
		require.NoError(t, err)
		hello, _ := EncodeFrame(FrameHello, []byte("alice"))
		_, err = conn.Write(hello)
		require.NoError(t, err)

		var requestID uint32
		require.Eventually(t, func() bool {
			var ok bool
			requestID, ok = db.lastRequest()
			return ok
		}, 2*time.Second, 10*time.Millisecond)

		p, ok := hs.pending.Load(requestID)
		require.True(t, ok)

		_ = conn.Close()
		require.Eventually(t, func() bool {
			return p.conn.Closed() && mgr.Count() == 0
		}, 2*time.Second, 10*time.Millisecond)

		return hs, mgr, db, p.conn, requestID
	}

	t.Run("late success leaves no state behind", func(t *testing.T) {
		hs, _, _, c, requestID := setup(t)

		hs.PlayerLoginSuccess(requestID, 7, "s3cret")

		assert.Equal(t, 0, hs.PendingLogins())
		assert.Equal(t, 0, hs.candidates.Len())
		assert.False(t, c.Session().HasAuthSession())
	})

	t.Run("success racing the close does not start a conversation", func(t *testing.T) {
		hs, _, _, c, requestID := setup(t)
		// The state check in PlayerLoginSuccess saw the session before it closed.
		c.Session().SetState(session.StateAuthenticating)

		hs.PlayerLoginSuccess(requestID, 7, "s3cret")

		assert.Equal(t, 0, hs.candidates.Len())
		assert.False(t, c.Session().HasAuthSession())
	})

	t.Run("late failure is harmless", func(t *testing.T) {
		hs, _, _, _, requestID := setup(t)

		assert.NotPanics(t, func() { hs.PlayerLoginFailed(requestID) })
		assert.Equal(t, 0, hs.PendingLogins())
	})
}

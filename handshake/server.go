package handshake

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/go-lobby/idgenerator"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/safemap"
	"github.com/cyberinferno/go-lobby/sasl"
	"github.com/cyberinferno/go-lobby/serverdb"
	"github.com/cyberinferno/go-lobby/session"
	"github.com/cyberinferno/go-lobby/tcpserver"
)

// PlayerBinder attaches an authenticated player to a session.
// sessionmanager.Manager implements it.
type PlayerBinder interface {
	BindPlayer(id session.ID, playerID uint32) error
}

type pendingLogin struct {
	conn *tcpserver.Connection
	name string
}

// Server is the verifying side of the handshake. It implements
// tcpserver.Handler, tcpserver.CloseHandler and serverdb.LoginCallback.
type Server struct {
	db       serverdb.ServerDB
	binder   PlayerBinder
	mech     sasl.Mechanism
	mechName string
	log      logger.Logger

	requestIDs *idgenerator.IdGenerator
	pending    *safemap.SafeMap[uint32, pendingLogin]
	// candidates holds the player id of sessions between login and bind.
	candidates *safemap.SafeMap[session.ID, uint32]
	// OnEstablished, when set, runs after a session completes the handshake.
	OnEstablished func(c *tcpserver.Connection)
}

// NewServer creates a handshake server.
//
// Parameters:
//   - db: Resolves player names to ids and stored passwords
//   - binder: Records the player id once authentication succeeds
//   - mech: Mechanism context for the server role
//   - mechName: Mechanism announced in HelloAck, e.g. sasl.MechSCRAMSHA1
//   - log: Logger; nil discards output
//
// Returns:
//   - A new Server; register it with db.SetCallbacks before db.Start
func NewServer(db serverdb.ServerDB, binder PlayerBinder, mech sasl.Mechanism, mechName string, log logger.Logger) *Server {
	if mechName == "" {
		mechName = session.DefaultMechanism
	}

	return &Server{
		db:         db,
		binder:     binder,
		mech:       mech,
		mechName:   mechName,
		log:        logger.OrNop(log).With(logger.Field{Key: "component", Value: "handshake"}),
		requestIDs: idgenerator.NewIdGenerator(0),
		pending:    safemap.NewSafeMap[uint32, pendingLogin](),
		candidates: safemap.NewSafeMap[session.ID, uint32](),
	}
}

// HandleConnect implements tcpserver.Handler.
func (srv *Server) HandleConnect(c *tcpserver.Connection) error {
	c.Logger().Debug("handshake connection opened")
	return nil
}

// HandleData implements tcpserver.Handler. It processes every complete
// frame in the receive buffer.
func (srv *Server) HandleData(c *tcpserver.Connection) error {
	for {
		f, ok, err := NextFrame(c.Session().ReceiveBuffer())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := srv.handleFrame(c, f); err != nil {
			return err
		}
	}
}

// HandleClose implements tcpserver.CloseHandler.
func (srv *Server) HandleClose(c *tcpserver.Connection) {
	srv.candidates.Delete(c.ID())
}

func (srv *Server) handleFrame(c *tcpserver.Connection, f Frame) error {
	s := c.Session()

	switch f.Type {
	case FrameHello:
		if s.State() != session.StateInit {
			return fmt.Errorf("%w: %s in state %s", ErrUnexpectedFrame, f.Type, s.State())
		}
		return srv.handleHello(c, string(f.Payload))

	case FrameAuthData:
		if s.State() != session.StateAuthenticating || !s.HasAuthSession() {
			return fmt.Errorf("%w: %s in state %s", ErrUnexpectedFrame, f.Type, s.State())
		}
		return srv.handleAuthData(c, f.Payload)

	default:
		return fmt.Errorf("%w: %s from client", ErrUnexpectedFrame, f.Type)
	}
}

func (srv *Server) handleHello(c *tcpserver.Connection, name string) error {
	if name == "" {
		srv.reject(c)
		return ErrEmptyName
	}

	c.Session().SetState(session.StateAuthenticating)

	requestID := srv.requestIDs.Id()
	srv.pending.Store(requestID, pendingLogin{conn: c, name: name})
	c.Logger().Debug("player login requested",
		logger.Field{Key: "player", Value: name},
		logger.Field{Key: "request", Value: requestID})

	srv.db.AsyncPlayerLogin(requestID, name)
	return nil
}

func (srv *Server) handleAuthData(c *tcpserver.Connection, in []byte) error {
	s := c.Session()

	out, err := s.AuthStep(s.CurrentAuthStep()+1, in)
	if err != nil {
		srv.reject(c)
		return err
	}

	if s.HasAuthSession() {
		return srv.send(c, FrameAuthData, out)
	}

	// Conversation complete; the server's final message precedes the result.
	if len(out) > 0 {
		if err := srv.send(c, FrameAuthData, out); err != nil {
			return err
		}
	}

	playerID, _ := srv.candidates.LoadAndDelete(s.ID())
	if err := srv.binder.BindPlayer(s.ID(), playerID); err != nil {
		srv.reject(c)
		return err
	}

	s.SetState(session.StateEstablished)
	if err := c.Send(resultFrame(true)); err != nil {
		return err
	}

	c.Logger().Info("player authenticated", logger.Field{Key: "player_id", Value: playerID})
	if srv.OnEstablished != nil {
		srv.OnEstablished(c)
	}

	return nil
}

// PlayerLoginSuccess implements serverdb.LoginCallback. It starts the
// verifying conversation with the stored password and acknowledges Hello.
func (srv *Server) PlayerLoginSuccess(requestID uint32, playerID uint32, password string) {
	p, ok := srv.pending.LoadAndDelete(requestID)
	if !ok {
		return
	}

	c := p.conn
	s := c.Session()
	if s.State() != session.StateAuthenticating {
		return
	}

	if err := s.CreateAuthSessionWith(srv.mech, srv.mechName, true, p.name, password); err != nil {
		if !errors.Is(err, session.ErrSessionClosed) {
			c.Logger().Error("failed to start authentication", logger.Err(err))
		}
		srv.rejectAndClose(c)
		return
	}

	srv.candidates.Store(s.ID(), playerID)
	// HandleClose may have run between the state check and the store.
	if c.Closed() {
		srv.candidates.Delete(s.ID())
		s.ClearAuthSession()
		return
	}
	if err := srv.send(c, FrameHelloAck, []byte(srv.mechName)); err != nil {
		_ = c.Close()
	}
}

// PlayerLoginFailed implements serverdb.LoginCallback.
func (srv *Server) PlayerLoginFailed(requestID uint32) {
	p, ok := srv.pending.LoadAndDelete(requestID)
	if !ok {
		return
	}

	p.conn.Logger().Info("player login failed", logger.Field{Key: "player", Value: p.name})
	srv.rejectAndClose(p.conn)
}

// PendingLogins returns the number of logins waiting for the database.
func (srv *Server) PendingLogins() int {
	return srv.pending.Len()
}

// NotifyIdle tells an established peer it will be disconnected after
// remaining unless it shows activity.
//
// Parameters:
//   - c: The peer's connection
//   - remaining: Time left before the idle kick, rounded down to seconds
//
// Returns:
//   - An error if the frame could not be sent
func (srv *Server) NotifyIdle(c *tcpserver.Connection, remaining time.Duration) error {
	secs := max(remaining/time.Second, 0)
	payload := binary.LittleEndian.AppendUint32(nil, uint32(secs))
	return srv.send(c, FrameIdleNotice, payload)
}

func (srv *Server) send(c *tcpserver.Connection, t FrameType, payload []byte) error {
	out, err := EncodeFrame(t, payload)
	if err != nil {
		return err
	}

	return c.Send(out)
}

func (srv *Server) reject(c *tcpserver.Connection) {
	c.Session().ClearAuthSession()
	_ = c.Send(resultFrame(false))
}

func (srv *Server) rejectAndClose(c *tcpserver.Connection) {
	srv.reject(c)
	_ = c.Close()
}

// Package session holds the per-connection session record shared by the
// transport, the session manager and the authentication handshake.
//
// A SessionData is a thread-safe store. It does not enforce lifecycle
// transitions; the transport layer decides which state changes are legal.
package session

import (
	"fmt"
	"net"
	"sync"

	"github.com/cyberinferno/go-lobby/sasl"
	"github.com/cyberinferno/go-lobby/stopwatch"
)

// DefaultMechanism is the mechanism CreateAuthSession starts.
const DefaultMechanism = sasl.MechSCRAMSHA1

// Callback is notified when a session record is destroyed.
type Callback interface {
	// SignalSessionTerminated is called exactly once per record, from Close,
	// before the record releases its resources.
	SignalSessionTerminated(id ID)
}

// SessionData is the state of one client connection.
//
// All fields except the id and the receive buffer are guarded by mu. The
// receive buffer synchronizes itself.
type SessionData struct {
	id       ID
	conn     net.Conn
	callback Callback
	recvBuf  ReceiveBuffer

	mu                 sync.Mutex
	gameID             uint32
	playerID           uint32
	state              State
	readyFlag          bool
	wantsLobbyMsg      bool
	clientAddr         string
	activityTimer      *stopwatch.Stopwatch
	autoDisconnect     *stopwatch.Stopwatch
	activityNoticeSent bool
	authSession        sasl.Conversation
	curAuthStep        int
	closed             bool

	closeOnce sync.Once
}

// New creates a session record in StateInit. The activity and auto-disconnect
// timers start running immediately.
//
// Parameters:
//   - conn: The connection owned by the transport; may be nil in tests
//   - id: Immutable session id
//   - cb: Notified once when the record is closed; may be nil
//
// Returns:
//   - The new record
func New(conn net.Conn, id ID, cb Callback) *SessionData {
	s := &SessionData{
		id:             id,
		conn:           conn,
		callback:       cb,
		state:          StateInit,
		wantsLobbyMsg:  true,
		activityTimer:  stopwatch.Started(),
		autoDisconnect: stopwatch.Started(),
	}

	if conn != nil && conn.RemoteAddr() != nil {
		s.clientAddr = conn.RemoteAddr().String()
	}

	return s
}

// ID returns the session id.
func (s *SessionData) ID() ID {
	return s.id
}

// Conn returns the connection the record was created with.
func (s *SessionData) Conn() net.Conn {
	return s.conn
}

// GameID returns the game the session has joined, or 0.
func (s *SessionData) GameID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameID
}

// SetGameID records the joined game. 0 means no game.
func (s *SessionData) SetGameID(gameID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameID = gameID
}

// PlayerID returns the database id bound after a successful login, or 0.
func (s *SessionData) PlayerID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

// SetPlayerID binds the player's database id to the session.
func (s *SessionData) SetPlayerID(playerID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerID = playerID
}

// State returns the lifecycle state.
func (s *SessionData) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState overwrites the lifecycle state without validating the transition.
func (s *SessionData) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// SetReadyFlag marks the player ready inside its game.
func (s *SessionData) SetReadyFlag() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyFlag = true
}

// ResetReadyFlag clears the ready mark. Joining a game resets it.
func (s *SessionData) ResetReadyFlag() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyFlag = false
}

// IsReady reports whether the ready mark is set.
func (s *SessionData) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyFlag
}

// SetWantsLobbyMsg subscribes the session to lobby broadcasts.
func (s *SessionData) SetWantsLobbyMsg() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wantsLobbyMsg = true
}

// ResetWantsLobbyMsg unsubscribes the session from lobby broadcasts.
func (s *SessionData) ResetWantsLobbyMsg() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wantsLobbyMsg = false
}

// WantsLobbyMsg reports whether the session receives lobby broadcasts.
func (s *SessionData) WantsLobbyMsg() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wantsLobbyMsg
}

// ClientAddr returns the peer address recorded for the session, or "".
func (s *SessionData) ClientAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientAddr
}

// SetClientAddr records the peer address.
//
// Parameters:
//   - addr: Address in host:port form
func (s *SessionData) SetClientAddr(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientAddr = addr
}

// ReceiveBuffer returns the record's inbound byte buffer. It is safe to use
// without holding any other lock.
func (s *SessionData) ReceiveBuffer() *ReceiveBuffer {
	return &s.recvBuf
}

// ResetActivityTimer restarts the activity timer and clears the notice flag.
// The transport calls it whenever traffic is seen.
func (s *SessionData) ResetActivityTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activityTimer.Restart()
	s.activityNoticeSent = false
}

// ActivityTimerElapsedSec returns the whole seconds since traffic was last
// seen.
func (s *SessionData) ActivityTimerElapsedSec() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activityTimer.ElapsedSeconds()
}

// HasActivityNoticeBeenSent reports whether MarkActivityNotice ran since
// the last ResetActivityTimer.
func (s *SessionData) HasActivityNoticeBeenSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activityNoticeSent
}

// MarkActivityNotice records that an inactivity warning was sent. The flag
// stays set until ResetActivityTimer.
func (s *SessionData) MarkActivityNotice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activityNoticeSent = true
}

// AutoDisconnectTimerElapsedSec returns the seconds since the record was
// created. The record never resets this timer.
func (s *SessionData) AutoDisconnectTimerElapsedSec() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoDisconnect.ElapsedSeconds()
}

// CurrentAuthStep returns the last accepted authentication step, 0 when no
// step has been taken.
func (s *SessionData) CurrentAuthStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curAuthStep
}

// HasAuthSession reports whether an authentication conversation is active.
func (s *SessionData) HasAuthSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authSession != nil
}

// CreateAuthSession starts a DefaultMechanism conversation.
// See CreateAuthSessionWith.
func (s *SessionData) CreateAuthSession(mech sasl.Mechanism, server bool, userName, password string) error {
	return s.CreateAuthSessionWith(mech, DefaultMechanism, server, userName, password)
}

// CreateAuthSessionWith replaces any active authentication conversation with
// a new one and resets the step counter to 0. The previous conversation is
// finished even when starting the new one fails.
//
// Parameters:
//   - mech: The mechanism context
//   - name: Mechanism name passed to the context
//   - server: true for the verifying role, false for the proving role
//   - userName: Authentication identity
//   - password: Shared credential
//
// Returns:
//   - ErrSessionClosed, ErrNoMechanism or the context's start error
func (s *SessionData) CreateAuthSessionWith(mech sasl.Mechanism, name string, server bool, userName, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearAuthSessionLocked()

	if s.closed {
		return ErrSessionClosed
	}
	if mech == nil {
		return ErrNoMechanism
	}

	var (
		conv sasl.Conversation
		err  error
	)
	if server {
		conv, err = mech.ServerStart(name, userName, password)
	} else {
		conv, err = mech.ClientStart(name, userName, password)
	}
	if err != nil {
		return err
	}

	s.authSession = conv
	s.curAuthStep = 0
	return nil
}

// AuthStep runs one step of the active authentication conversation.
//
// stepNum must be exactly one more than the last accepted step; otherwise the
// call fails and nothing changes. An accepted step number is consumed even if
// the mechanism then fails. When the mechanism completes on any step after the
// first, the final output is returned and the conversation is released, so
// further steps fail with ErrNoAuthSession.
//
// Parameters:
//   - stepNum: The step being taken, starting at 1
//   - in: The peer's last message
//
// Returns:
//   - The message to send to the peer
//   - ErrNoAuthSession, ErrAuthStepOutOfOrder, ErrAuthCompletedEarly or an ErrAuthFailed wrap
func (s *SessionData) AuthStep(stepNum int, in []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authSession == nil {
		return nil, ErrNoAuthSession
	}

	if stepNum != s.curAuthStep+1 {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrAuthStepOutOfOrder, stepNum, s.curAuthStep+1)
	}

	s.curAuthStep = stepNum
	out, done, err := s.authSession.Step(in)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: step %d: %w", ErrAuthFailed, stepNum, err)
	case !done:
		return out, nil
	case stepNum != 1:
		s.clearAuthSessionLocked()
		return out, nil
	default:
		return nil, ErrAuthCompletedEarly
	}
}

// ClearAuthSession finishes and releases the active conversation, if any.
func (s *SessionData) ClearAuthSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearAuthSessionLocked()
}

func (s *SessionData) clearAuthSessionLocked() {
	if s.authSession == nil {
		return
	}

	s.authSession.Finish()
	s.authSession = nil
	s.curAuthStep = 0
}

// Close destroys the record: the callback is notified with the id, then the
// authentication conversation is released and the state becomes StateClosed.
// Only the first call has an effect. Close does not close the connection;
// that belongs to the transport.
func (s *SessionData) Close() {
	s.closeOnce.Do(func() {
		if s.callback != nil {
			s.callback.SignalSessionTerminated(s.id)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.clearAuthSessionLocked()
		s.state = StateClosed
		s.closed = true
	})
}

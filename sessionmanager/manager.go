// Package sessionmanager owns the live session records of the lobby: it
// registers them, tracks game membership, reacts to their termination and
// disconnects idle or unauthenticated peers.
package sessionmanager

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-lobby/idgenerator"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/safemap"
	"github.com/cyberinferno/go-lobby/safeset"
	"github.com/cyberinferno/go-lobby/serverdb"
	"github.com/cyberinferno/go-lobby/session"
)

// Game is a running game and the sessions that joined it.
type Game struct {
	ID      uint32
	Name    string
	Members *safeset.SafeSet[session.ID]
}

// Hooks lets the protocol layer react to manager events. Nil hooks are
// skipped; a nil OnTimeout closes the session's connection and record.
type Hooks struct {
	// OnActivityWarning runs once per idle period, remaining is the time
	// left before the session is disconnected.
	OnActivityWarning func(s *session.SessionData, remaining time.Duration)

	// OnTimeout runs for each session the sweep decides to disconnect.
	OnTimeout func(s *session.SessionData)

	// OnGameCreated reports the outcome of CreateGame. err is nil on success.
	OnGameCreated func(s *session.SessionData, gameID uint32, err error)
}

type pendingGame struct {
	sessionID session.ID
	name      string
}

// Manager is the owning registry of session records. It implements
// session.Callback and serverdb.GameCallback.
type Manager struct {
	cfg Config
	db  serverdb.ServerDB
	log logger.Logger

	sessionIDs *idgenerator.IdGenerator
	requestIDs *idgenerator.IdGenerator
	sessions   *safemap.SafeMap[session.ID, *session.SessionData]
	games      *safemap.SafeMap[uint32, *Game]
	pending    *safemap.SafeMap[uint32, pendingGame]

	// bindMu serializes BindPlayer so two sessions cannot bind one player.
	bindMu sync.Mutex

	// gameMu guards game registration and membership together, so a game
	// is never ended while a session is joining it.
	gameMu sync.Mutex

	hooksMu sync.RWMutex
	hooks   Hooks
}

// New creates a Manager.
//
// Parameters:
//   - cfg: Timeout settings, usually DefaultConfig()
//   - db: Database for logouts and game bookkeeping; may be nil
//   - log: Logger; nil discards output
//
// Returns:
//   - A new Manager with no sessions
func New(cfg Config, db serverdb.ServerDB, log logger.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		db:         db,
		log:        logger.OrNop(log).With(logger.Field{Key: "component", Value: "sessionmanager"}),
		sessionIDs: idgenerator.NewIdGenerator(0),
		requestIDs: idgenerator.NewIdGenerator(0),
		sessions:   safemap.NewSafeMap[session.ID, *session.SessionData](),
		games:      safemap.NewSafeMap[uint32, *Game](),
		pending:    safemap.NewSafeMap[uint32, pendingGame](),
	}
}

// SetHooks replaces the event hooks.
func (m *Manager) SetHooks(h Hooks) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = h
}

func (m *Manager) getHooks() Hooks {
	m.hooksMu.RLock()
	defer m.hooksMu.RUnlock()
	return m.hooks
}

// NewSession registers a record for a freshly accepted connection.
//
// Parameters:
//   - conn: The accepted connection; may be nil in tests
//
// Returns:
//   - The new record, in session.StateInit
func (m *Manager) NewSession(conn net.Conn) *session.SessionData {
	for {
		id := session.ID(m.sessionIDs.Id())
		s := session.New(conn, id, m)
		if _, loaded := m.sessions.LoadOrStore(id, s); !loaded {
			m.log.Debug("session registered",
				logger.Field{Key: "session", Value: id},
				logger.Field{Key: "addr", Value: s.ClientAddr()})
			return s
		}
	}
}

// Get returns the live record for id.
func (m *Manager) Get(id session.ID) (*session.SessionData, bool) {
	return m.sessions.Load(id)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	return m.sessions.Len()
}

// Range calls fn for each live session until fn returns false.
func (m *Manager) Range(fn func(s *session.SessionData) bool) {
	m.sessions.Range(func(_ session.ID, s *session.SessionData) bool {
		return fn(s)
	})
}

// SignalSessionTerminated implements session.Callback. It unregisters the
// session, takes it out of its game and logs its player out.
func (m *Manager) SignalSessionTerminated(id session.ID) {
	s, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return
	}

	m.leaveGame(s)
	if playerID := s.PlayerID(); playerID != 0 && m.db != nil {
		m.db.PlayerLogout(playerID)
	}

	m.log.Debug("session terminated", logger.Field{Key: "session", Value: id})
}

// BindPlayer records the database player id on an authenticated session.
//
// Returns:
//   - ErrSessionNotFound, or ErrPlayerLoggedIn if another live session has the player
func (m *Manager) BindPlayer(id session.ID, playerID uint32) error {
	m.bindMu.Lock()
	defer m.bindMu.Unlock()

	s, ok := m.sessions.Load(id)
	if !ok {
		return ErrSessionNotFound
	}

	taken := false
	m.sessions.Range(func(other session.ID, o *session.SessionData) bool {
		if other != id && o.PlayerID() == playerID {
			taken = true
			return false
		}
		return true
	})
	if taken {
		return ErrPlayerLoggedIn
	}

	s.SetPlayerID(playerID)
	return nil
}

// ForEachLobbySubscriber calls fn for every established session that is not
// in a game and wants lobby messages.
func (m *Manager) ForEachLobbySubscriber(fn func(s *session.SessionData)) {
	m.sessions.Range(func(_ session.ID, s *session.SessionData) bool {
		if s.State() == session.StateEstablished && s.GameID() == 0 && s.WantsLobbyMsg() {
			fn(s)
		}
		return true
	})
}

// CloseAll closes every live session's connection and record.
func (m *Manager) CloseAll() {
	for _, id := range m.sessions.Keys() {
		if s, ok := m.sessions.Load(id); ok {
			closeSession(s)
		}
	}
}

// Run sweeps every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep applies the timeouts once. Unauthenticated sessions older than
// InitTimeout are timed out. Authenticated sessions idle for ActivityWarning
// are warned once, and timed out after ActivityKick.
func (m *Manager) Sweep() {
	hooks := m.getHooks()
	var expired []*session.SessionData

	m.sessions.Range(func(_ session.ID, s *session.SessionData) bool {
		switch s.State() {
		case session.StateInit, session.StateAuthenticating:
			if seconds(s.AutoDisconnectTimerElapsedSec()) >= m.cfg.InitTimeout {
				expired = append(expired, s)
			}
		case session.StateEstablished, session.StateGame:
			idle := seconds(s.ActivityTimerElapsedSec())
			if idle >= m.cfg.ActivityKick {
				expired = append(expired, s)
			} else if idle >= m.cfg.ActivityWarning && !s.HasActivityNoticeBeenSent() {
				s.MarkActivityNotice()
				if hooks.OnActivityWarning != nil {
					hooks.OnActivityWarning(s, m.cfg.ActivityKick-idle)
				}
			}
		}
		return true
	})

	for _, s := range expired {
		m.log.Info("session timed out",
			logger.Field{Key: "session", Value: s.ID()},
			logger.Field{Key: "state", Value: s.State().String()})

		if hooks.OnTimeout != nil {
			hooks.OnTimeout(s)
		} else {
			closeSession(s)
		}
	}
}

func closeSession(s *session.SessionData) {
	if conn := s.Conn(); conn != nil {
		_ = conn.Close()
	}
	s.Close()
}

func seconds(n uint) time.Duration {
	return time.Duration(n) * time.Second
}

package sessionmanager

import (
	"fmt"

	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/safeset"
	"github.com/cyberinferno/go-lobby/session"
)

// CreateGame asks the database to create a game for an established session.
// The outcome arrives through CreateGameSuccess or CreateGameFailed and is
// reported to Hooks.OnGameCreated; on success the creator joins the game.
//
// Parameters:
//   - id: The creating session
//   - name: Game name
//
// Returns:
//   - The request id handed to the database
//   - ErrNoDatabase, ErrSessionNotFound or ErrNotEstablished
func (m *Manager) CreateGame(id session.ID, name string) (uint32, error) {
	if m.db == nil {
		return 0, ErrNoDatabase
	}

	s, ok := m.sessions.Load(id)
	if !ok {
		return 0, ErrSessionNotFound
	}

	if !s.State().Authenticated() {
		return 0, ErrNotEstablished
	}

	requestID := m.requestIDs.Id()
	m.pending.Store(requestID, pendingGame{sessionID: id, name: name})
	m.db.AsyncCreateGame(requestID, name)
	return requestID, nil
}

// CreateGameSuccess implements serverdb.GameCallback.
func (m *Manager) CreateGameSuccess(requestID uint32, gameID uint32) {
	req, ok := m.pending.LoadAndDelete(requestID)
	if !ok {
		return
	}

	m.log.Info("game created",
		logger.Field{Key: "game", Value: gameID},
		logger.Field{Key: "session", Value: req.sessionID})

	s, ok := m.sessions.Load(req.sessionID)

	m.gameMu.Lock()
	m.games.Store(gameID, &Game{ID: gameID, Name: req.name, Members: safeset.NewSafeSet[session.ID]()})
	var (
		err   error
		ended []uint32
	)
	if ok {
		ended, err = m.joinGameLocked(s, gameID)
	} else if m.removeGameIfEmptyLocked(gameID) {
		ended = append(ended, gameID)
	}
	m.gameMu.Unlock()

	m.endGames(ended)
	if !ok {
		return
	}

	if hook := m.getHooks().OnGameCreated; hook != nil {
		hook(s, gameID, err)
	}
}

// CreateGameFailed implements serverdb.GameCallback.
func (m *Manager) CreateGameFailed(requestID uint32) {
	req, ok := m.pending.LoadAndDelete(requestID)
	if !ok {
		return
	}

	m.log.Warn("game creation failed", logger.Field{Key: "session", Value: req.sessionID})

	if s, ok := m.sessions.Load(req.sessionID); ok {
		if hook := m.getHooks().OnGameCreated; hook != nil {
			hook(s, 0, ErrGameCreateFailed)
		}
	}
}

// Game returns the game with the given id.
func (m *Manager) Game(gameID uint32) (*Game, bool) {
	return m.games.Load(gameID)
}

// GameCount returns the number of running games.
func (m *Manager) GameCount() int {
	return m.games.Len()
}

// JoinGame moves a session into a game, leaving its previous game first.
//
// Parameters:
//   - id: The joining session
//   - gameID: A registered game
//
// Returns:
//   - ErrSessionNotFound, ErrGameNotFound or ErrNotEstablished
func (m *Manager) JoinGame(id session.ID, gameID uint32) error {
	s, ok := m.sessions.Load(id)
	if !ok {
		return ErrSessionNotFound
	}

	m.gameMu.Lock()
	ended, err := m.joinGameLocked(s, gameID)
	m.gameMu.Unlock()

	m.endGames(ended)
	return err
}

// LeaveGame takes a session out of its game and back to the lobby. A game
// left empty is ended.
func (m *Manager) LeaveGame(id session.ID) error {
	s, ok := m.sessions.Load(id)
	if !ok {
		return ErrSessionNotFound
	}

	m.leaveGame(s)
	if s.State() == session.StateGame {
		s.SetState(session.StateEstablished)
	}
	return nil
}

// GameMembers returns a snapshot of the sessions in a game.
func (m *Manager) GameMembers(gameID uint32) []session.ID {
	g, ok := m.games.Load(gameID)
	if !ok {
		return nil
	}

	return g.Members.Values()
}

// SetPlayerPlace records a finishing place for a game member.
//
// Returns:
//   - ErrNoDatabase, ErrSessionNotFound, or ErrGameNotFound when the
//     session is in no running game
func (m *Manager) SetPlayerPlace(id session.ID, place uint) error {
	if m.db == nil {
		return ErrNoDatabase
	}

	s, ok := m.sessions.Load(id)
	if !ok {
		return ErrSessionNotFound
	}

	m.gameMu.Lock()
	defer m.gameMu.Unlock()

	gameID := s.GameID()
	if gameID == 0 || !m.games.Has(gameID) {
		return ErrGameNotFound
	}

	m.db.SetGamePlayerPlace(gameID, s.PlayerID(), place)
	return nil
}

func (m *Manager) joinGameLocked(s *session.SessionData, gameID uint32) ([]uint32, error) {
	if !s.State().Authenticated() {
		return nil, ErrNotEstablished
	}

	g, ok := m.games.Load(gameID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}

	current := s.GameID()
	if current == gameID {
		return nil, nil
	}

	var ended []uint32
	if current != 0 && m.leaveGameLocked(s) {
		ended = append(ended, current)
	}

	g.Members.Add(s.ID())
	s.SetGameID(gameID)
	s.ResetReadyFlag()
	s.SetState(session.StateGame)
	return ended, nil
}

func (m *Manager) leaveGame(s *session.SessionData) {
	m.gameMu.Lock()
	gameID := s.GameID()
	ended := m.leaveGameLocked(s)
	m.gameMu.Unlock()

	if ended {
		m.endGames([]uint32{gameID})
	}
}

// leaveGameLocked reports whether the session's game was ended.
func (m *Manager) leaveGameLocked(s *session.SessionData) bool {
	gameID := s.GameID()
	if gameID == 0 {
		return false
	}

	s.SetGameID(0)
	s.ResetReadyFlag()
	if g, ok := m.games.Load(gameID); ok {
		g.Members.Remove(s.ID())
	}
	return m.removeGameIfEmptyLocked(gameID)
}

func (m *Manager) removeGameIfEmptyLocked(gameID uint32) bool {
	g, ok := m.games.Load(gameID)
	if !ok || g.Members.Size() > 0 {
		return false
	}

	m.games.Delete(gameID)
	return true
}

// endGames tells the database about ended games. Call it without gameMu.
func (m *Manager) endGames(ids []uint32) {
	for _, gameID := range ids {
		m.log.Info("game ended", logger.Field{Key: "game", Value: gameID})
		if m.db != nil {
			m.db.EndGame(gameID)
		}
	}
}

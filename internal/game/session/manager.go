package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// Sentinel errors for player table operations.
var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrPlayerExists   = errors.New("player already connected")
)

// PlayerSession tracks a connected player's state.
type PlayerSession struct {
	// UID is the unique player identifier.
	UID string
	// Name is the display name shown in-game.
	Name string
	// Body holds the player's movement state and Location.
	Body *Body
	// Entity is the bridge entity for pushing routed messages to the player.
	Entity *BridgeEntity
}

// Manager tracks all active player sessions. Region membership lives in the
// router factory; the manager only owns the players table.
// All methods are safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	players    map[string]*PlayerSession
	bufferSize int
}

// NewManager creates an empty session Manager whose entities buffer
// bufferSize messages (DefaultBufferSize when <= 0).
func NewManager(bufferSize int) *Manager {
	return &Manager{
		players:    make(map[string]*PlayerSession),
		bufferSize: bufferSize,
	}
}

// AddPlayer registers a new player session.
//
// Precondition: uid must be non-empty and body must not be nil.
// Postcondition: Returns the created PlayerSession, or ErrPlayerExists if the
// UID is already registered.
func (m *Manager) AddPlayer(uid, name string, body *Body) (*PlayerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.players[uid]; exists {
		return nil, fmt.Errorf("player %q: %w", uid, ErrPlayerExists)
	}
	sess := &PlayerSession{
		UID:    uid,
		Name:   name,
		Body:   body,
		Entity: NewBridgeEntity(uid, m.bufferSize),
	}
	m.players[uid] = sess
	return sess, nil
}

// RemovePlayer removes a player session and closes its entity.
//
// Postcondition: Returns the removed session, or ErrPlayerNotFound.
func (m *Manager) RemovePlayer(uid string) (*PlayerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.players[uid]
	if !exists {
		return nil, fmt.Errorf("player %q: %w", uid, ErrPlayerNotFound)
	}
	_ = sess.Entity.Close()
	delete(m.players, uid)
	return sess, nil
}

// GetPlayer returns the session for the given UID.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (m *Manager) GetPlayer(uid string) (*PlayerSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.players[uid]
	return sess, ok
}

// Players returns a snapshot of all sessions ordered by UID. The tick loop
// iterates this snapshot so that players joining or leaving mid-tick do not
// race with it.
//
// Postcondition: Returns a non-nil slice; may be empty.
func (m *Manager) Players() []*PlayerSession {
	m.mu.RLock()
	out := make([]*PlayerSession, 0, len(m.players))
	for _, sess := range m.players {
		out = append(out, sess)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// PlayersAt returns the UIDs of the players whose Location equals loc.
//
// Postcondition: Returns a slice of UIDs in UID order (may be empty).
func (m *Manager) PlayersAt(loc world.Location) []string {
	var out []string
	for _, sess := range m.Players() {
		if sess.Body.Location().Equal(loc) {
			out = append(out, sess.UID)
		}
	}
	return out
}

// PlayerCount returns the total number of connected players.
func (m *Manager) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

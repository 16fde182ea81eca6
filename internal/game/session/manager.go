package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cory-johannsen/omok/internal/game/chat"
	"github.com/cory-johannsen/omok/internal/game/gameerr"
	"github.com/cory-johannsen/omok/internal/game/source"
	"github.com/cory-johannsen/omok/internal/storage"
)

// Deps are the collaborators shared by every session a Manager creates.
type Deps struct {
	IDs   source.IDSource
	Clock source.Clock
	// Store is optional; without it sessions are memory-only and not restored.
	Store        storage.Store
	StoreTimeout time.Duration
	// Directory is optional; it receives every session's summary changes.
	Directory      SummarySink
	ObserverBuffer int
	ChatCap        int
	Logger         *zap.Logger
}

// Manager is the table of live sessions keyed by id. A session enters the
// table when created or restored and leaves it when disposed.
// All methods are safe for concurrent use.
//
// Lock order is manager then session; sessions never call back into the Manager.
// Storage I/O never happens under the manager lock.
type Manager struct {
	deps     Deps
	mu       sync.RWMutex
	sessions map[string]*GameSession
	// restoring merges concurrent restores of the same id.
	restoring singleflight.Group
}

// NewManager creates an empty Manager.
//
// Precondition: deps.IDs, deps.Clock, and deps.Logger must be non-nil.
func NewManager(deps Deps) *Manager {
	if deps.ChatCap < 1 {
		deps.ChatCap = chat.SessionCap
	}
	if deps.ObserverBuffer < 1 {
		deps.ObserverBuffer = 64
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = 2 * time.Second
	}
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*GameSession),
	}
}

// Create allocates a new session, seats the creator as Black, and registers it.
//
// Postcondition: Returns the session and its state after the creator joined.
func (m *Manager) Create(displayName, creatorID, creatorName string) (*GameSession, State, error) {
	id := m.deps.IDs.NewID()
	sess := newGameSession(id, m.deps, m.slot(id))
	if err := sess.Create(displayName, creatorName); err != nil {
		return nil, State{}, err
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, State{}, fmt.Errorf("session id %q already in use", id)
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	st, err := sess.Join(creatorID, creatorName, false)
	if err != nil {
		return nil, State{}, err
	}
	return sess, st, nil
}

// Get returns the live session with the given id, restoring it from storage
// if it is not in the table.
//
// Postcondition: Returns the session, or an error wrapping gameerr.ErrSessionNotFound.
func (m *Manager) Get(id string) (*GameSession, error) {
	if sess, ok := m.lookup(id); ok {
		return sess, nil
	}
	if id == "" || m.deps.Store == nil {
		return nil, fmt.Errorf("session %q: %w", id, gameerr.ErrSessionNotFound)
	}
	v, err, _ := m.restoring.Do(id, func() (any, error) {
		return m.restore(id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*GameSession), nil
}

func (m *Manager) lookup(id string) (*GameSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// restore loads session id from storage without holding the table lock and
// registers it unless another caller registered the id first.
func (m *Manager) restore(id string) (*GameSession, error) {
	if sess, ok := m.lookup(id); ok {
		return sess, nil
	}
	sess := newGameSession(id, m.deps, m.slot(id))
	if !sess.restore() {
		return nil, fmt.Errorf("session %q: %w", id, gameerr.ErrSessionNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		sess.hub.Close()
		return existing, nil
	}
	m.sessions[id] = sess
	return sess, nil
}

// Leave removes participantID from session id and disposes the session if
// its roster became empty.
//
// Postcondition: Returns true iff the session was left empty.
func (m *Manager) Leave(id, participantID string) (bool, error) {
	sess, err := m.Get(id)
	if err != nil {
		return false, err
	}
	empty, err := sess.Leave(participantID)
	if err != nil {
		return false, err
	}
	if empty {
		m.dispose(sess)
	}
	return empty, nil
}

// dispose removes sess from the table if it is still empty and then deletes
// its saved state. A participant who joined between Leave and dispose keeps
// the session alive.
func (m *Manager) dispose(sess *GameSession) {
	if !m.unregister(sess) {
		return
	}
	if sess.slot != nil {
		sess.slot.Clear()
	}
}

func (m *Manager) unregister(sess *GameSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sess.ID()] != sess {
		return false
	}
	if !sess.dispose() {
		return false
	}
	delete(m.sessions, sess.ID())
	m.deps.Logger.Debug("session removed", zap.String("session_id", sess.ID()), zap.Int("remaining", len(m.sessions)))
	return true
}

// Sessions returns the live sessions ordered by id.
func (m *Manager) Sessions() []*GameSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*GameSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close detaches the observers of every live session. Saved state is kept.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.hub.Close()
	}
}

func (m *Manager) slot(id string) *storage.Slot {
	if m.deps.Store == nil {
		return nil
	}
	return storage.NewSlot(m.deps.Store, storage.SessionKey(id), m.deps.StoreTimeout, m.deps.Logger)
}

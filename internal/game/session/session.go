// Package session implements the per-game state machine and the table of
// live sessions.
package session

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/omok/internal/game/broadcast"
	"github.com/cory-johannsen/omok/internal/game/chat"
	"github.com/cory-johannsen/omok/internal/game/directory"
	"github.com/cory-johannsen/omok/internal/game/gameerr"
	"github.com/cory-johannsen/omok/internal/game/omok"
	"github.com/cory-johannsen/omok/internal/game/source"
	"github.com/cory-johannsen/omok/internal/storage"
)

// SummarySink receives the session's listing entry after roster or phase changes.
// *directory.Directory satisfies it.
type SummarySink interface {
	UpdateSessionSummary(summary directory.Summary) bool
}

// GameSession owns one game. Every operation holds the session lock for its
// full duration, so operations apply one at a time in arrival order. The
// summary sink is called after the lock is released.
type GameSession struct {
	id     string
	ids    source.IDSource
	clock  source.Clock
	slot   *storage.Slot
	hub    *broadcast.Hub
	sink   SummarySink
	logger *zap.Logger

	mu       sync.Mutex
	st       State
	chat     *chat.Log
	revision uint64
	closed   bool
}

func newGameSession(id string, deps Deps, slot *storage.Slot) *GameSession {
	logger := deps.Logger.With(zap.String("session_id", id))
	return &GameSession{
		id:     id,
		ids:    deps.IDs,
		clock:  deps.Clock,
		slot:   slot,
		hub:    broadcast.NewHub("session/"+id, deps.ObserverBuffer, logger),
		sink:   deps.Directory,
		logger: logger,
		chat:   chat.NewLog(deps.ChatCap),
		st: State{
			ID:    id,
			Turn:  omok.Black,
			Phase: omok.PhaseWaiting,
		},
	}
}

// ID returns the session id.
func (s *GameSession) ID() string {
	return s.id
}

// Create initializes the session to an empty waiting game. Calling it on a
// live session overwrites its state.
//
// Postcondition: Phase is waiting, the board is empty, and Black is to move.
func (s *GameSession) Create(displayName, creatorName string) error {
	return s.mutate(func() error {
		s.st = State{
			ID:        s.id,
			Name:      displayName,
			Creator:   creatorName,
			Turn:      omok.Black,
			Phase:     omok.PhaseWaiting,
			CreatedAt: s.clock.Now(),
		}
		s.chat.Replace(nil)
		s.persistLocked()
		s.logger.Info("session created",
			zap.String("name", displayName),
			zap.String("creator", creatorName),
		)
		return nil
	})
}

// Join adds a participant. The first two non-spectator joiners are seated as
// Black then White; everyone else spectates.
//
// Precondition: participantID is not already on the roster.
// Postcondition: Returns the resulting state, or an error wrapping
// gameerr.ErrDuplicateParticipant with no state change.
func (s *GameSession) Join(participantID, displayName string, asSpectator bool) (State, error) {
	var out State
	err := s.mutate(func() error {
		if s.st.Has(participantID) {
			return fmt.Errorf("joining session %s as %q: %w", s.id, participantID, gameerr.ErrDuplicateParticipant)
		}

		p := Participant{ID: participantID, Name: displayName, Role: RoleSpectator}
		if asSpectator || len(s.st.Players) >= 2 {
			s.st.Spectators = append(s.st.Spectators, p)
		} else {
			p.Role = RolePlayer
			p.Color = omok.Black
			if len(s.st.Players) == 1 {
				p.Color = s.st.Players[0].Color.Opponent()
			}
			s.st.Players = append(s.st.Players, p)
			if len(s.st.Players) == 2 && s.st.Phase == omok.PhaseWaiting {
				s.st.Phase = omok.PhaseActive
			}
		}
		s.revision++
		s.persistLocked()

		out = s.snapshotLocked()
		s.hub.Publish(broadcast.Envelope{Type: EventPlayerJoined, Payload: JoinedEvent{Participant: p, State: out}})
		s.logger.Debug("participant joined",
			zap.String("participant_id", participantID),
			zap.String("role", string(p.Role)),
			zap.String("color", string(p.Color)),
		)
		return nil
	})
	return out, err
}

// Leave removes a participant from whichever roster holds it. Unknown ids are
// a no-op. A player leaving an active game pauses it; the board is kept.
//
// Postcondition: Returns true iff the roster is now empty.
func (s *GameSession) Leave(participantID string) (bool, error) {
	var empty bool
	err := s.mutate(func() error {
		removed := false
		if i := indexOf(s.st.Players, participantID); i >= 0 {
			s.st.Players = append(s.st.Players[:i:i], s.st.Players[i+1:]...)
			removed = true
			if len(s.st.Players) == 1 && s.st.Phase == omok.PhaseActive {
				s.st.Phase = omok.PhaseWaiting
			}
		} else if i := indexOf(s.st.Spectators, participantID); i >= 0 {
			s.st.Spectators = append(s.st.Spectators[:i:i], s.st.Spectators[i+1:]...)
			removed = true
		}
		empty = len(s.st.Players) == 0 && len(s.st.Spectators) == 0
		if !removed {
			return nil
		}
		s.revision++
		s.persistLocked()

		s.hub.Publish(broadcast.Envelope{
			Type:    EventPlayerLeft,
			Payload: LeftEvent{ParticipantID: participantID, State: s.snapshotLocked()},
		})
		s.logger.Debug("participant left",
			zap.String("participant_id", participantID),
			zap.Bool("empty", empty),
		)
		return nil
	})
	return empty, err
}

// Move places the mover's stone at (row, col).
//
// Precondition: the game is active, it is the mover's turn, and the cell is
// on the board and empty.
// Postcondition: On success the stone is placed and either the mover wins
// (phase finished, turn unchanged) or the turn passes. On failure nothing changes.
func (s *GameSession) Move(participantID string, row, col int) (State, error) {
	var out State
	err := s.mutate(func() error {
		if s.st.Phase != omok.PhaseActive {
			return fmt.Errorf("move in session %s: %w", s.id, gameerr.ErrNotPlaying)
		}
		p, ok := s.st.Player(participantID)
		if !ok || p.Color != s.st.Turn {
			return fmt.Errorf("move in session %s by %q: %w", s.id, participantID, gameerr.ErrNotYourTurn)
		}
		if !omok.InBounds(row, col) {
			return fmt.Errorf("move (%d,%d) in session %s: %w", row, col, s.id, gameerr.ErrOutOfBounds)
		}
		if s.st.Board[row][col] != omok.None {
			return fmt.Errorf("move (%d,%d) in session %s: %w", row, col, s.id, gameerr.ErrCellOccupied)
		}

		color := s.st.Turn
		s.st.Board[row][col] = color
		if omok.CheckWin(&s.st.Board, row, col, color) {
			s.st.Winner = color
			s.st.Phase = omok.PhaseFinished
			s.revision++
			s.logger.Info("game won", zap.String("winner", string(color)))
		} else {
			s.st.Turn = color.Opponent()
		}
		s.persistLocked()

		out = s.snapshotLocked()
		s.hub.Publish(broadcast.Envelope{Type: EventMoveMade, Payload: MoveEvent{
			ParticipantID: participantID,
			Row:           row,
			Col:           col,
			Color:         color,
			Turn:          s.st.Turn,
			Phase:         s.st.Phase,
			Winner:        s.st.Winner,
		}})
		return nil
	})
	return out, err
}

// Chat appends a message from a roster member.
//
// Postcondition: Returns the new entry, or an error wrapping
// gameerr.ErrUnknownParticipant with no state change.
func (s *GameSession) Chat(participantID, text string) (chat.Entry, error) {
	var entry chat.Entry
	err := s.mutate(func() error {
		name, ok := s.nameLocked(participantID)
		if !ok {
			return fmt.Errorf("chat in session %s from %q: %w", s.id, participantID, gameerr.ErrUnknownParticipant)
		}
		entry = chat.Entry{
			ID:         s.ids.NewID(),
			AuthorID:   participantID,
			AuthorName: name,
			Text:       text,
			CreatedAt:  s.clock.Now(),
		}
		s.chat.Append(entry)
		s.persistLocked()
		s.hub.Publish(broadcast.Envelope{Type: EventChat, Payload: ChatEvent{Entry: entry}})
		return nil
	})
	return entry, err
}

// Reset clears a finished game. Roster and chat are kept.
//
// Precondition: the game is finished.
// Postcondition: The board is empty, Black is to move, there is no winner, and
// the phase is active with two players or waiting otherwise.
func (s *GameSession) Reset() (State, error) {
	var out State
	err := s.mutate(func() error {
		if s.st.Phase != omok.PhaseFinished {
			return fmt.Errorf("reset session %s: %w", s.id, gameerr.ErrGameNotFinished)
		}
		s.st.Board = omok.Board{}
		s.st.Turn = omok.Black
		s.st.Winner = omok.None
		s.st.Phase = omok.PhaseWaiting
		if len(s.st.Players) == 2 {
			s.st.Phase = omok.PhaseActive
		}
		s.revision++
		s.persistLocked()

		out = s.snapshotLocked()
		s.hub.Publish(broadcast.Envelope{Type: EventGameReset, Payload: StateEvent{State: out}})
		s.logger.Debug("game reset", zap.String("phase", string(out.Phase)))
		return nil
	})
	return out, err
}

// State returns a snapshot of the session.
func (s *GameSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Summary returns the session's current listing entry.
func (s *GameSession) Summary() directory.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

// Subscribe attaches an observer whose first event is the current state.
//
// Postcondition: Returns a non-nil Observer. After disposal it is already closed.
func (s *GameSession) Subscribe() *broadcast.Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub.Subscribe(broadcast.Envelope{Type: EventState, Payload: StateEvent{State: s.snapshotLocked()}})
}

// Observers returns the number of attached observers.
func (s *GameSession) Observers() int {
	return s.hub.Len()
}

// mutate runs fn under the session lock and, if fn changed the roster or
// phase, forwards the new summary to the sink once the lock is released.
func (s *GameSession) mutate(fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", s.id, gameerr.ErrSessionNotFound)
	}
	before := s.revision
	err := fn()
	changed := s.revision != before
	summary := s.summaryLocked()
	s.mu.Unlock()

	if changed && s.sink != nil {
		s.sink.UpdateSessionSummary(summary)
	}
	return err
}

// restore loads the session from its slot. A saved state with an empty
// roster can never be disposed, so it is deleted instead of applied.
//
// Postcondition: Returns true iff a saved state with participants was found and applied.
func (s *GameSession) restore() bool {
	if s.slot == nil {
		return false
	}
	var rec record
	if !s.slot.Restore(&rec) || rec.State.ID != s.id {
		return false
	}
	if len(rec.State.Players) == 0 && len(rec.State.Spectators) == 0 {
		s.logger.Info("discarding saved session with an empty roster")
		s.slot.Clear()
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat.Replace(rec.State.Chat)
	rec.State.Chat = nil
	s.st = rec.State
	s.revision = rec.Revision
	s.logger.Info("session restored",
		zap.Int("players", len(s.st.Players)),
		zap.Int("spectators", len(s.st.Spectators)),
		zap.String("phase", string(s.st.Phase)),
	)
	return true
}

// dispose closes an empty session: observers are detached and later
// operations fail with gameerr.ErrSessionNotFound. The caller deletes the
// saved state.
//
// Postcondition: Returns false, leaving the session open, if the roster is not empty.
func (s *GameSession) dispose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if len(s.st.Players) > 0 || len(s.st.Spectators) > 0 {
		return false
	}
	s.closed = true
	s.hub.Close()
	s.logger.Info("session disposed")
	return true
}

func (s *GameSession) persistLocked() {
	if s.slot == nil {
		return
	}
	s.slot.Persist(record{State: s.snapshotLocked(), Revision: s.revision})
}

func (s *GameSession) snapshotLocked() State {
	out := s.st
	out.Players = append([]Participant{}, s.st.Players...)
	out.Spectators = append([]Participant{}, s.st.Spectators...)
	out.Chat = s.chat.Entries()
	return out
}

func (s *GameSession) summaryLocked() directory.Summary {
	return directory.Summary{
		SessionID:      s.id,
		DisplayName:    s.st.Name,
		CreatorName:    s.st.Creator,
		PlayerCount:    len(s.st.Players),
		SpectatorCount: len(s.st.Spectators),
		Phase:          s.st.Phase,
		CreatedAt:      s.st.CreatedAt,
		Revision:       s.revision,
	}
}

func (s *GameSession) nameLocked(participantID string) (string, bool) {
	if p, ok := s.st.Player(participantID); ok {
		return p.Name, true
	}
	if i := indexOf(s.st.Spectators, participantID); i >= 0 {
		return s.st.Spectators[i].Name, true
	}
	return "", false
}

func indexOf(roster []Participant, id string) int {
	for i, p := range roster {
		if p.ID == id {
			return i
		}
	}
	return -1
}

package session

import (
	"time"

	"github.com/cory-johannsen/omok/internal/game/chat"
	"github.com/cory-johannsen/omok/internal/game/omok"
)

// Role distinguishes seated players from observers.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Participant is a member of a session's roster. Only players have a color.
type Participant struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Color omok.Color `json:"color,omitempty"`
	Role  Role       `json:"role"`
}

// State is a point-in-time copy of a session. Mutating it has no effect on the session.
type State struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Creator    string        `json:"creator"`
	Players    []Participant `json:"players"`
	Spectators []Participant `json:"spectators"`
	Board      omok.Board    `json:"board"`
	Turn       omok.Color    `json:"currentPlayer"`
	Phase      omok.Phase    `json:"gameState"`
	Winner     omok.Color    `json:"winner"`
	Chat       []chat.Entry  `json:"chatHistory"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Player returns the seated player with the given id.
func (s State) Player(id string) (Participant, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// Has reports whether id is on the roster as player or spectator.
func (s State) Has(id string) bool {
	if _, ok := s.Player(id); ok {
		return true
	}
	for _, p := range s.Spectators {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Event types published to session observers.
const (
	EventState        = "state"
	EventPlayerJoined = "player-joined"
	EventPlayerLeft   = "player-left"
	EventMoveMade     = "move-made"
	EventChat         = "chat-message"
	EventGameReset    = "game-reset"
)

// StateEvent is the payload of EventState and EventGameReset.
type StateEvent struct {
	State State `json:"state"`
}

// JoinedEvent is the payload of EventPlayerJoined.
type JoinedEvent struct {
	Participant Participant `json:"participant"`
	State       State       `json:"state"`
}

// LeftEvent is the payload of EventPlayerLeft.
type LeftEvent struct {
	ParticipantID string `json:"participantId"`
	State         State  `json:"state"`
}

// MoveEvent is the payload of EventMoveMade.
type MoveEvent struct {
	ParticipantID string     `json:"participantId"`
	Row           int        `json:"row"`
	Col           int        `json:"col"`
	Color         omok.Color `json:"color"`
	Turn          omok.Color `json:"turn"`
	Phase         omok.Phase `json:"phase"`
	Winner        omok.Color `json:"winner"`
}

// ChatEvent is the payload of EventChat.
type ChatEvent struct {
	Entry chat.Entry `json:"entry"`
}

// record is the persisted form of a session.
type record struct {
	State    State  `json:"state"`
	Revision uint64 `json:"revision"`
}

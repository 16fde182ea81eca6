// Package directory implements the meeting area: the registry of waiting
// participants, its rolling chat, and the listing of live game sessions.
package directory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/omok/internal/game/broadcast"
	"github.com/cory-johannsen/omok/internal/game/chat"
	"github.com/cory-johannsen/omok/internal/game/gameerr"
	"github.com/cory-johannsen/omok/internal/game/omok"
	"github.com/cory-johannsen/omok/internal/game/source"
	"github.com/cory-johannsen/omok/internal/storage"
)

// Event types published to directory observers.
const (
	EventConnected    = "connected"
	EventChat         = "lobby-chat"
	EventRooms        = "rooms-updated"
	EventPlayerJoined = "player-joined"
	EventPlayerLeft   = "player-left"
)

// Summary is the listing entry for one game session. It is produced by the
// session and only stored here.
type Summary struct {
	SessionID      string     `json:"id"`
	DisplayName    string     `json:"name"`
	CreatorName    string     `json:"creator"`
	PlayerCount    int        `json:"playerCount"`
	SpectatorCount int        `json:"spectatorCount"`
	Phase          omok.Phase `json:"gameState"`
	CreatedAt      time.Time  `json:"createdAt"`
	// Revision increases with every roster or phase change of the session.
	Revision uint64 `json:"revision"`
}

// Empty reports whether the session has neither players nor spectators.
func (s Summary) Empty() bool {
	return s.PlayerCount == 0 && s.SpectatorCount == 0
}

// Member is a participant registered in the meeting area.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// JoinResult is what a participant sees on entering the meeting area.
type JoinResult struct {
	ChatHistory []chat.Entry `json:"chatHistory"`
	Sessions    []Summary    `json:"rooms"`
}

// Stats is a point-in-time count of the directory's contents.
type Stats struct {
	Participants int `json:"playersCount"`
	ChatEntries  int `json:"chatHistoryCount"`
	Sessions     int `json:"roomsCount"`
	Observers    int `json:"observerCount"`
}

// ChatEvent is the payload of EventChat.
type ChatEvent struct {
	Entry chat.Entry `json:"entry"`
}

// RoomsEvent is the payload of EventRooms.
type RoomsEvent struct {
	Rooms []Summary `json:"rooms"`
}

// PresenceEvent is the payload of EventPlayerJoined and EventPlayerLeft.
type PresenceEvent struct {
	Participant Member `json:"participant"`
	Count       int    `json:"count"`
}

// Deps are the collaborators of a Directory.
type Deps struct {
	IDs   source.IDSource
	Clock source.Clock
	// Slot is optional; without it the directory is memory-only.
	Slot           *storage.Slot
	ObserverBuffer int
	ChatCap        int
	// TombstoneTTL is how long the revision of a removed session is kept to
	// reject lagging summaries. Zero selects DefaultTombstoneTTL.
	TombstoneTTL time.Duration
	Logger       *zap.Logger
}

// DefaultTombstoneTTL is the tombstone lifetime used when Deps.TombstoneTTL is zero.
const DefaultTombstoneTTL = 10 * time.Minute

// tombstone records the last revision of a removed session.
type tombstone struct {
	Revision  uint64    `json:"revision"`
	RemovedAt time.Time `json:"removedAt"`
}

// snapshot is the persisted form of a Directory.
type snapshot struct {
	Members    []Member             `json:"players"`
	Chat       []chat.Entry         `json:"chatHistory"`
	Sessions   []Summary            `json:"rooms"`
	Tombstones map[string]tombstone `json:"tombstones,omitempty"`
}

// Directory is the meeting-area singleton. Every operation holds the
// directory lock for its full duration, including persistence and broadcast.
type Directory struct {
	ids          source.IDSource
	clock        source.Clock
	slot         *storage.Slot
	hub          *broadcast.Hub
	tombstoneTTL time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	members  map[string]Member
	order    []string
	chat     *chat.Log
	sessions map[string]Summary
	// tombstones holds removed session ids until they expire.
	tombstones map[string]tombstone
}

// New creates a Directory and restores its last saved state if deps.Slot holds one.
//
// Precondition: deps.IDs, deps.Clock, and deps.Logger must be non-nil.
// Postcondition: Returns a ready Directory; a missing or unreadable saved state yields an empty one.
func New(deps Deps) *Directory {
	capacity := deps.ChatCap
	if capacity < 1 {
		capacity = chat.DirectoryCap
	}
	buffer := deps.ObserverBuffer
	if buffer < 1 {
		buffer = 64
	}
	ttl := deps.TombstoneTTL
	if ttl <= 0 {
		ttl = DefaultTombstoneTTL
	}
	d := &Directory{
		ids:          deps.IDs,
		clock:        deps.Clock,
		slot:         deps.Slot,
		hub:          broadcast.NewHub("directory", buffer, deps.Logger),
		tombstoneTTL: ttl,
		logger:       deps.Logger,
		members:      make(map[string]Member),
		chat:         chat.NewLog(capacity),
		sessions:     make(map[string]Summary),
		tombstones:   make(map[string]tombstone),
	}
	d.restore()
	return d
}

func (d *Directory) restore() {
	if d.slot == nil {
		return
	}
	var snap snapshot
	if !d.slot.Restore(&snap) {
		return
	}
	for _, m := range snap.Members {
		if _, ok := d.members[m.ID]; !ok {
			d.order = append(d.order, m.ID)
		}
		d.members[m.ID] = m
	}
	d.chat.Replace(snap.Chat)
	for _, s := range snap.Sessions {
		d.sessions[s.SessionID] = s
	}
	for id, ts := range snap.Tombstones {
		if _, live := d.sessions[id]; !live {
			d.tombstones[id] = ts
		}
	}
	d.pruneLocked(d.clock.Now())
	d.logger.Info("directory restored",
		zap.Int("participants", len(d.members)),
		zap.Int("chat_entries", d.chat.Len()),
		zap.Int("sessions", len(d.sessions)),
	)
}

// Join registers the participant, or refreshes its display name if already
// registered.
//
// Postcondition: The participant is registered; the result holds the current
// chat history and session listing.
func (d *Directory) Join(participantID, displayName string) JoinResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, existed := d.members[participantID]
	member := Member{ID: participantID, Name: displayName}
	if !existed {
		d.order = append(d.order, participantID)
	}
	d.members[participantID] = member
	d.persistLocked()

	if !existed {
		d.hub.Publish(broadcast.Envelope{
			Type:    EventPlayerJoined,
			Payload: PresenceEvent{Participant: member, Count: len(d.members)},
		})
	}
	d.logger.Debug("directory join",
		zap.String("participant_id", participantID),
		zap.Bool("refresh", existed),
	)
	return JoinResult{
		ChatHistory: d.chat.Entries(),
		Sessions:    d.summariesLocked(),
	}
}

// Leave unregisters the participant. Unknown ids are ignored.
func (d *Directory) Leave(participantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	member, ok := d.members[participantID]
	if !ok {
		return
	}
	delete(d.members, participantID)
	for i, id := range d.order {
		if id == participantID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.persistLocked()
	d.hub.Publish(broadcast.Envelope{
		Type:    EventPlayerLeft,
		Payload: PresenceEvent{Participant: member, Count: len(d.members)},
	})
	d.logger.Debug("directory leave", zap.String("participant_id", participantID))
}

// Chat appends a message from a registered participant and broadcasts it.
//
// Postcondition: Returns the new entry, or an error wrapping
// gameerr.ErrUnknownParticipant with no state change.
func (d *Directory) Chat(participantID, text string) (chat.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	member, ok := d.members[participantID]
	if !ok {
		return chat.Entry{}, fmt.Errorf("directory chat from %q: %w", participantID, gameerr.ErrUnknownParticipant)
	}
	entry := chat.Entry{
		ID:         d.ids.NewID(),
		AuthorID:   participantID,
		AuthorName: member.Name,
		Text:       text,
		CreatedAt:  d.clock.Now(),
	}
	d.chat.Append(entry)
	d.persistLocked()
	d.hub.Publish(broadcast.Envelope{Type: EventChat, Payload: ChatEvent{Entry: entry}})
	return entry, nil
}

// UpdateSessionSummary upserts the listing entry for summary.SessionID, or
// removes it when the session is empty, then broadcasts the refreshed listing.
// A summary older than the last one accepted for the same session is ignored.
//
// Postcondition: Returns true iff the summary was applied.
func (d *Directory) UpdateSessionSummary(summary Summary) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.pruneLocked(now)
	if last, seen := d.lastRevisionLocked(summary.SessionID); seen && summary.Revision < last {
		d.logger.Debug("stale session summary ignored",
			zap.String("session_id", summary.SessionID),
			zap.Uint64("revision", summary.Revision),
			zap.Uint64("last_revision", last),
		)
		return false
	}
	if summary.Empty() {
		delete(d.sessions, summary.SessionID)
		d.tombstones[summary.SessionID] = tombstone{Revision: summary.Revision, RemovedAt: now}
	} else {
		d.sessions[summary.SessionID] = summary
		delete(d.tombstones, summary.SessionID)
	}
	d.persistLocked()

	rooms := d.summariesLocked()
	d.hub.Publish(broadcast.Envelope{Type: EventRooms, Payload: RoomsEvent{Rooms: rooms}})
	return true
}

// Summaries returns the session listing, oldest session first.
func (d *Directory) Summaries() []Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summariesLocked()
}

// ChatHistory returns the retained chat entries, oldest first.
func (d *Directory) ChatHistory() []chat.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chat.Entries()
}

// Members returns the registered participants in registration order.
func (d *Directory) Members() []Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Member, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.members[id])
	}
	return out
}

// Stats reports current counts.
func (d *Directory) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Participants: len(d.members),
		ChatEntries:  d.chat.Len(),
		Sessions:     len(d.sessions),
		Observers:    d.hub.Len(),
	}
}

// Subscribe attaches an observer. Its first event is EventConnected.
//
// Postcondition: Returns a non-nil Observer; Close detaches it.
func (d *Directory) Subscribe() *broadcast.Observer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hub.Subscribe(broadcast.Envelope{Type: EventConnected})
}

// Close detaches every observer.
func (d *Directory) Close() {
	d.hub.Close()
}

func (d *Directory) lastRevisionLocked(id string) (uint64, bool) {
	if s, ok := d.sessions[id]; ok {
		return s.Revision, true
	}
	if ts, ok := d.tombstones[id]; ok {
		return ts.Revision, true
	}
	return 0, false
}

// pruneLocked forgets tombstones older than the tombstone TTL.
func (d *Directory) pruneLocked(now time.Time) {
	for id, ts := range d.tombstones {
		if now.Sub(ts.RemovedAt) >= d.tombstoneTTL {
			delete(d.tombstones, id)
		}
	}
}

func (d *Directory) summariesLocked() []Summary {
	out := make([]Summary, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

func (d *Directory) persistLocked() {
	if d.slot == nil {
		return
	}
	members := make([]Member, 0, len(d.order))
	for _, id := range d.order {
		members = append(members, d.members[id])
	}
	tombstones := make(map[string]tombstone, len(d.tombstones))
	for id, ts := range d.tombstones {
		tombstones[id] = ts
	}
	d.slot.Persist(snapshot{
		Members:    members,
		Chat:       d.chat.Entries(),
		Sessions:   d.summariesLocked(),
		Tombstones: tombstones,
	})
}

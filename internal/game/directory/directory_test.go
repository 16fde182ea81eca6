package directory

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/omok/internal/game/broadcast"
	"github.com/cory-johannsen/omok/internal/game/chat"
	"github.com/cory-johannsen/omok/internal/game/gameerr"
	"github.com/cory-johannsen/omok/internal/game/omok"
	"github.com/cory-johannsen/omok/internal/game/source"
	"github.com/cory-johannsen/omok/internal/storage"
	"github.com/cory-johannsen/omok/internal/storage/memory"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newDirectory(t *testing.T, slot *storage.Slot) *Directory {
	t.Helper()
	return New(Deps{
		IDs:            source.NewSequenceSource("msg"),
		Clock:          source.NewStepClock(epoch, time.Second),
		Slot:           slot,
		ObserverBuffer: 32,
		ChatCap:        chat.DirectoryCap,
		Logger:         zaptest.NewLogger(t),
	})
}

type event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// drain returns every event already queued on obs.
func drain(t *testing.T, obs *broadcast.Observer) []event {
	t.Helper()
	var out []event
	for {
		select {
		case data, ok := <-obs.Events():
			if !ok {
				return out
			}
			var e event
			require.NoError(t, json.Unmarshal(data, &e))
			out = append(out, e)
		default:
			return out
		}
	}
}

func summary(id string, players, spectators int, rev uint64) Summary {
	return Summary{
		SessionID:      id,
		DisplayName:    "room " + id,
		CreatorName:    "alice",
		PlayerCount:    players,
		SpectatorCount: spectators,
		Phase:          omok.PhaseWaiting,
		CreatedAt:      epoch,
		Revision:       rev,
	}
}

func TestJoin_ReturnsHistoryAndSessions(t *testing.T) {
	d := newDirectory(t, nil)
	d.Join("p1", "alice")
	_, err := d.Chat("p1", "hello")
	require.NoError(t, err)
	require.True(t, d.UpdateSessionSummary(summary("s1", 1, 0, 1)))

	res := d.Join("p2", "bob")
	require.Len(t, res.ChatHistory, 1)
	assert.Equal(t, "hello", res.ChatHistory[0].Text)
	require.Len(t, res.Sessions, 1)
	assert.Equal(t, "s1", res.Sessions[0].SessionID)
}

func TestJoin_IdempotentRefresh(t *testing.T) {
	d := newDirectory(t, nil)
	obs := d.Subscribe()
	d.Join("p1", "alice")
	d.Join("p1", "alicia")

	assert.Equal(t, []Member{{ID: "p1", Name: "alicia"}}, d.Members())

	events := drain(t, obs)
	require.Len(t, events, 2, "connected plus a single presence event")
	assert.Equal(t, EventConnected, events[0].Type)
	assert.Equal(t, EventPlayerJoined, events[1].Type)
}

func TestLeave(t *testing.T) {
	d := newDirectory(t, nil)
	d.Join("p1", "alice")
	obs := d.Subscribe()

	d.Leave("p1")
	d.Leave("p1")
	d.Leave("ghost")

	assert.Empty(t, d.Members())
	events := drain(t, obs)
	require.Len(t, events, 2)
	assert.Equal(t, EventPlayerLeft, events[1].Type)
}

func TestChat_UnknownParticipant(t *testing.T) {
	d := newDirectory(t, nil)
	obs := d.Subscribe()

	_, err := d.Chat("ghost", "hi")
	assert.ErrorIs(t, err, gameerr.ErrUnknownParticipant)
	assert.Empty(t, d.ChatHistory())
	assert.Len(t, drain(t, obs), 1, "only the connected event")
}

func TestChat_BroadcastsEntry(t *testing.T) {
	d := newDirectory(t, nil)
	d.Join("p1", "alice")
	obs := d.Subscribe()

	entry, err := d.Chat("p1", "  ")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", entry.ID)
	assert.Equal(t, "alice", entry.AuthorName)
	assert.Equal(t, "  ", entry.Text, "content is not validated here")
	assert.Equal(t, epoch, entry.CreatedAt)

	events := drain(t, obs)
	require.Len(t, events, 2)
	assert.Equal(t, EventChat, events[1].Type)
	var payload ChatEvent
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, entry.ID, payload.Entry.ID)
}

func TestChat_CapEvictsOldest(t *testing.T) {
	d := newDirectory(t, nil)
	d.Join("p1", "alice")
	for i := 0; i < chat.DirectoryCap+5; i++ {
		_, err := d.Chat("p1", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	history := d.ChatHistory()
	require.Len(t, history, chat.DirectoryCap)
	assert.Equal(t, "m5", history[0].Text)
	assert.Equal(t, fmt.Sprintf("m%d", chat.DirectoryCap+4), history[len(history)-1].Text)
}

func TestUpdateSessionSummary_EmptyRemovesAndBroadcasts(t *testing.T) {
	d := newDirectory(t, nil)
	require.True(t, d.UpdateSessionSummary(summary("s1", 2, 1, 1)))
	require.True(t, d.UpdateSessionSummary(summary("s2", 1, 0, 1)))
	obs := d.Subscribe()

	require.True(t, d.UpdateSessionSummary(summary("s1", 0, 0, 2)))

	got := d.Summaries()
	require.Len(t, got, 1)
	assert.Equal(t, "s2", got[0].SessionID)

	events := drain(t, obs)
	require.Len(t, events, 2)
	assert.Equal(t, EventRooms, events[1].Type)
	var payload RoomsEvent
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	require.Len(t, payload.Rooms, 1)
	assert.Equal(t, "s2", payload.Rooms[0].SessionID)
}

func TestUpdateSessionSummary_EmptyUnknownStillBroadcasts(t *testing.T) {
	d := newDirectory(t, nil)
	obs := d.Subscribe()
	require.True(t, d.UpdateSessionSummary(summary("s9", 0, 0, 1)))
	assert.Empty(t, d.Summaries())
	events := drain(t, obs)
	require.Len(t, events, 2)
	assert.Equal(t, EventRooms, events[1].Type)
}

func TestUpdateSessionSummary_IgnoresStaleRevision(t *testing.T) {
	d := newDirectory(t, nil)
	require.True(t, d.UpdateSessionSummary(summary("s1", 2, 0, 5)))
	assert.False(t, d.UpdateSessionSummary(summary("s1", 1, 0, 4)))
	assert.Equal(t, 2, d.Summaries()[0].PlayerCount)

	require.True(t, d.UpdateSessionSummary(summary("s1", 0, 0, 6)))
	assert.False(t, d.UpdateSessionSummary(summary("s1", 1, 0, 5)), "a removed session is not resurrected by a lagging summary")
	assert.Empty(t, d.Summaries())
}

func TestUpdateSessionSummary_RemovedSessionsAreForgotten(t *testing.T) {
	d := New(Deps{
		IDs:          source.NewSequenceSource("msg"),
		Clock:        source.NewStepClock(epoch, time.Second),
		TombstoneTTL: 5 * time.Second,
		Logger:       zaptest.NewLogger(t),
	})
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("s%d", i)
		require.True(t, d.UpdateSessionSummary(summary(id, 1, 0, 1)))
		require.True(t, d.UpdateSessionSummary(summary(id, 0, 0, 2)))
	}
	assert.Empty(t, d.Summaries())
	assert.LessOrEqual(t, len(d.tombstones), 5, "tombstones are bounded by the TTL")

	require.True(t, d.UpdateSessionSummary(summary("s99", 0, 0, 3)))
	assert.False(t, d.UpdateSessionSummary(summary("s99", 1, 0, 2)), "recent removals still reject lagging summaries")
}

func TestRestoreDropsExpiredTombstones(t *testing.T) {
	store := memory.NewStore()
	slot := storage.NewSlot(store, storage.DirectoryKey, time.Second, zaptest.NewLogger(t))

	d := newDirectory(t, slot)
	require.True(t, d.UpdateSessionSummary(summary("gone", 0, 0, 7)))
	require.Len(t, d.tombstones, 1)

	later := New(Deps{
		IDs:    source.NewSequenceSource("msg"),
		Clock:  source.NewStepClock(epoch.Add(time.Hour), time.Second),
		Slot:   slot,
		Logger: zaptest.NewLogger(t),
	})
	assert.Empty(t, later.tombstones)
}

func TestSummaries_OrderedByCreation(t *testing.T) {
	d := newDirectory(t, nil)
	late := summary("a", 1, 0, 1)
	late.CreatedAt = epoch.Add(time.Minute)
	d.UpdateSessionSummary(late)
	d.UpdateSessionSummary(summary("b", 1, 0, 1))

	got := d.Summaries()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].SessionID)
	assert.Equal(t, "a", got[1].SessionID)
}

func TestStats(t *testing.T) {
	d := newDirectory(t, nil)
	d.Join("p1", "alice")
	d.Join("p2", "bob")
	_, _ = d.Chat("p1", "hi")
	d.UpdateSessionSummary(summary("s1", 1, 0, 1))
	_ = d.Subscribe()

	assert.Equal(t, Stats{Participants: 2, ChatEntries: 1, Sessions: 1, Observers: 1}, d.Stats())
}

func TestDeadObserverDoesNotFailOperation(t *testing.T) {
	d := newDirectory(t, nil)
	d.Join("p1", "alice")
	dead := d.Subscribe()
	live := d.Subscribe()
	require.NoError(t, dead.Close())

	_, err := d.Chat("p1", "still works")
	require.NoError(t, err)

	assert.Equal(t, 1, d.Stats().Observers)
	events := drain(t, live)
	require.Len(t, events, 2)
	assert.Equal(t, EventChat, events[1].Type)
}

func TestRestoreFromSlot(t *testing.T) {
	store := memory.NewStore()
	slot := storage.NewSlot(store, storage.DirectoryKey, time.Second, zaptest.NewLogger(t))

	d := newDirectory(t, slot)
	d.Join("p1", "alice")
	_, err := d.Chat("p1", "persisted")
	require.NoError(t, err)
	d.UpdateSessionSummary(summary("s1", 1, 1, 3))
	d.UpdateSessionSummary(summary("gone", 0, 0, 7))

	restored := newDirectory(t, slot)
	assert.Equal(t, []Member{{ID: "p1", Name: "alice"}}, restored.Members())
	require.Len(t, restored.ChatHistory(), 1)
	assert.Equal(t, "persisted", restored.ChatHistory()[0].Text)
	require.Len(t, restored.Summaries(), 1)
	assert.False(t, restored.UpdateSessionSummary(summary("gone", 1, 0, 6)))
}

func TestRestoreCorruptStateStartsEmpty(t *testing.T) {
	store := memory.NewStore()
	logger := zaptest.NewLogger(t)
	require.NoError(t, store.Save(t.Context(), storage.DirectoryKey, []byte("{not json")))
	slot := storage.NewSlot(store, storage.DirectoryKey, time.Second, logger)

	d := newDirectory(t, slot)
	assert.Empty(t, d.Members())
	assert.Empty(t, d.Summaries())
}

func TestPropertyListingMatchesLastSummaries(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := New(Deps{
			IDs:    source.NewSequenceSource("msg"),
			Clock:  source.NewStepClock(epoch, time.Second),
			Logger: zap.NewNop(),
		})
		ids := []string{"s1", "s2", "s3"}
		latest := map[string]Summary{}
		rev := map[string]uint64{}
		n := rapid.IntRange(1, 40).Draw(t, "n")
		for i := 0; i < n; i++ {
			id := rapid.SampledFrom(ids).Draw(t, "id")
			rev[id]++
			s := summary(id, rapid.IntRange(0, 2).Draw(t, "players"), rapid.IntRange(0, 2).Draw(t, "spectators"), rev[id])
			d.UpdateSessionSummary(s)
			latest[id] = s
		}
		want := 0
		for _, s := range latest {
			if !s.Empty() {
				want++
			}
		}
		got := d.Summaries()
		if len(got) != want {
			t.Fatalf("listing has %d entries, want %d", len(got), want)
		}
		for _, s := range got {
			if s != latest[s.SessionID] {
				t.Fatalf("listing entry %v != latest %v", s, latest[s.SessionID])
			}
		}
	})
}

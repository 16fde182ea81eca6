// Package chat holds immutable chat entries in a size-bounded log.
package chat

import "time"

const (
	// SessionCap bounds the chat history of a game session.
	SessionCap = 50
	// DirectoryCap bounds the chat history of the meeting area.
	DirectoryCap = 100
)

// Entry is a single chat message. Entries are never modified after creation.
type Entry struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"playerId"`
	AuthorName string    `json:"playerName"`
	Text       string    `json:"message"`
	CreatedAt  time.Time `json:"timestamp"`
}

// Log is an append-only sequence of entries holding at most Cap entries.
// Appending past the cap evicts the oldest entries first.
//
// Log is not safe for concurrent use; its owner serializes access.
type Log struct {
	cap     int
	entries []Entry
}

// NewLog creates an empty Log bounded to capacity entries.
//
// Precondition: capacity >= 1.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{cap: capacity}
}

// Cap returns the maximum number of retained entries.
func (l *Log) Cap() int {
	return l.cap
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Append adds e as the newest entry, evicting from the front while over cap.
//
// Postcondition: Len() <= Cap(); the newest entry is e.
func (l *Log) Append(e Entry) {
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.cap; over > 0 {
		kept := make([]Entry, l.cap)
		copy(kept, l.entries[over:])
		l.entries = kept
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Replace discards the current entries and appends entries in order, so
// only the newest Cap() of them are kept.
func (l *Log) Replace(entries []Entry) {
	l.entries = nil
	for _, e := range entries {
		l.Append(e)
	}
}

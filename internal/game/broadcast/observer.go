// Package broadcast provides best-effort, non-blocking fan-out of events to
// the observers attached to a game session or the directory.
package broadcast

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrObserverClosed is returned when pushing to a closed observer.
	ErrObserverClosed = errors.New("observer closed")
	// ErrObserverFull is returned when an observer's queue has no room.
	ErrObserverFull = errors.New("observer buffer full")
)

// Observer is one attached consumer. Events are queued on a bounded channel
// that the transport drains; Close is the subscription's cancel function.
type Observer struct {
	id     string
	events chan []byte
	mu     sync.Mutex
	closed bool
}

// NewObserver creates an open Observer with room for bufferSize queued events.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an Observer with an open events channel.
func NewObserver(id string, bufferSize int) *Observer {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Observer{
		id:     id,
		events: make(chan []byte, bufferSize),
	}
}

// ID returns the observer's identifier.
func (o *Observer) ID() string {
	return o.id
}

// Push enqueues data without blocking.
//
// Postcondition: data is queued, or ErrObserverClosed / ErrObserverFull is returned.
func (o *Observer) Push(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("observer %s: %w", o.id, ErrObserverClosed)
	}
	select {
	case o.events <- data:
		return nil
	default:
		return fmt.Errorf("observer %s: %w", o.id, ErrObserverFull)
	}
}

// Events returns the read-only event channel. It is closed when the observer closes.
func (o *Observer) Events() <-chan []byte {
	return o.events
}

// Close detaches the observer. It is idempotent.
//
// Postcondition: the events channel is closed; further Push calls fail.
func (o *Observer) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.events)
	}
	return nil
}

// IsClosed reports whether the observer has been closed.
func (o *Observer) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

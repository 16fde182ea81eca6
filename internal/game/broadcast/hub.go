package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Envelope is the serialized shape of every broadcast event.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub is the observer registry of one instance. Publish never blocks on a
// consumer: an observer whose push fails is dropped and closed, and delivery
// continues to the rest.
type Hub struct {
	name       string
	bufferSize int
	logger     *zap.Logger

	mu        sync.Mutex
	observers map[*Observer]struct{}
	seq       int
	closed    bool
}

// NewHub creates an empty Hub. name identifies the owning instance in logs.
//
// Precondition: logger must be non-nil.
func NewHub(name string, bufferSize int, logger *zap.Logger) *Hub {
	return &Hub{
		name:       name,
		bufferSize: bufferSize,
		logger:     logger,
		observers:  make(map[*Observer]struct{}),
	}
}

// Subscribe attaches a new observer and queues initial ahead of any later
// publication. A closed hub returns an already-closed observer.
//
// Postcondition: Returns a non-nil Observer.
func (h *Hub) Subscribe(initial ...Envelope) *Observer {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	obs := NewObserver(fmt.Sprintf("%s/%d", h.name, h.seq), h.bufferSize)
	if h.closed {
		_ = obs.Close()
		return obs
	}
	for _, env := range initial {
		data, err := json.Marshal(env)
		if err != nil {
			h.logger.Error("encoding initial event", zap.String("hub", h.name), zap.String("type", env.Type), zap.Error(err))
			continue
		}
		_ = obs.Push(data)
	}
	h.observers[obs] = struct{}{}
	h.logger.Debug("observer attached",
		zap.String("hub", h.name),
		zap.String("observer", obs.ID()),
		zap.Int("observers", len(h.observers)),
	)
	return obs
}

// Publish serializes env once and pushes it to every attached observer.
//
// Postcondition: Returns the number of observers that accepted the event.
// Observers that rejected it are removed and closed.
func (h *Hub) Publish(env Envelope) int {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("encoding event", zap.String("hub", h.name), zap.String("type", env.Type), zap.Error(err))
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for obs := range h.observers {
		if err := obs.Push(data); err != nil {
			delete(h.observers, obs)
			_ = obs.Close()
			h.logger.Debug("observer dropped",
				zap.String("hub", h.name),
				zap.String("observer", obs.ID()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Len returns the number of attached observers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Close detaches and closes every observer. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for obs := range h.observers {
		_ = obs.Close()
		delete(h.observers, obs)
	}
}

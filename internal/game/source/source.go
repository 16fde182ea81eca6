// Package source provides the identifier and clock collaborators consumed by
// the game sessions and the directory.
package source

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDSource issues unique identifiers for sessions, participants, and chat entries.
type IDSource interface {
	// NewID returns an identifier never returned before by this source.
	NewID() string
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// uuidSource implements IDSource with random (version 4) UUIDs.
type uuidSource struct{}

// NewUUIDSource returns an IDSource backed by github.com/google/uuid.
func NewUUIDSource() IDSource {
	return uuidSource{}
}

// NewID returns a random UUID string.
func (uuidSource) NewID() string {
	return uuid.NewString()
}

type systemClock struct{}

// NewSystemClock returns a Clock reading the wall clock in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

// Now returns the current UTC time.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SequenceSource is a deterministic IDSource producing "<prefix>-1", "<prefix>-2", ...
// It is safe for concurrent use.
type SequenceSource struct {
	prefix string
	mu     sync.Mutex
	next   int
}

// NewSequenceSource creates a SequenceSource with the given prefix.
func NewSequenceSource(prefix string) *SequenceSource {
	return &SequenceSource{prefix: prefix}
}

// NewID returns the next identifier in the sequence.
func (s *SequenceSource) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s-%d", s.prefix, s.next)
}

// StepClock is a deterministic Clock that advances by Step on every call.
// It is safe for concurrent use.
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewStepClock creates a StepClock starting at start and advancing by step.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{now: start, Step: step}
}

// Now returns the current time and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.Step)
	return t
}

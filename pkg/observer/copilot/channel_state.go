// Package copilot – channel_state.go holds the canonical per-channel
// transcript and its lock.
package copilot

import (
	"sync"

	"github.com/jholhewres/observer/pkg/observer/transcript"
)

// ChannelState is the canonical conversation history of one channel. Every
// mutation happens under mu, and mu is never held across a call into the
// engine, a tool, a notification or an attachment download.
type ChannelState struct {
	mu         sync.Mutex
	transcript *transcript.Transcript
}

// NewChannelState creates an empty state capped at limit turns.
func NewChannelState(limit int) *ChannelState {
	return &ChannelState{transcript: transcript.New(limit)}
}

// Add appends turns in order and evicts the oldest beyond the cap.
func (s *ChannelState) Add(turns ...transcript.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript.Add(turns...)
}

// Clear drops the whole history.
func (s *ChannelState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript.Clear()
}

// Snapshot returns an independent copy of the current history.
func (s *ChannelState) Snapshot() *transcript.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Clone()
}

// Len returns the number of stored turns.
func (s *ChannelState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Len()
}

// Turns returns a copy of the stored turns, oldest first.
func (s *ChannelState) Turns() []transcript.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Turns()
}

// ChannelStates lazily creates one ChannelState per conversation. States
// live for the lifetime of the process.
type ChannelStates struct {
	mu     sync.Mutex
	limit  int
	states map[string]*ChannelState
}

// NewChannelStates creates a registry whose states are capped at limit.
func NewChannelStates(limit int) *ChannelStates {
	return &ChannelStates{limit: limit, states: make(map[string]*ChannelState)}
}

// Get returns the state for key, creating it on first use.
func (c *ChannelStates) Get(key string) *ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.states[key]
	if !ok {
		s = NewChannelState(c.limit)
		c.states[key] = s
	}
	return s
}

// Len returns the number of known conversations.
func (c *ChannelStates) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

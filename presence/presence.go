// Package presence holds ephemeral per-participant metadata (cursor,
// selection) scoped to one room. Presence is never merged into the document
// and does not survive the participant's connection.
package presence

import (
	"sync"
	"time"
)

// Cursor is a participant's pointer position on the canvas.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// State is the presence record of one participant. Fields are last-writer
// wins: only the owning client ever updates its own cursor and selection.
type State struct {
	Cursor       *Cursor
	Selection    []string
	LastActiveAt time.Time
}

// Store keeps presence state per participant for one room.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*State
}

// NewStore creates an empty presence store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*State)}
}

// Track registers a participant with empty presence.
func (s *Store) Track(participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[participantID] = &State{LastActiveAt: time.Now()}
}

// SetCursor overwrites the participant's cursor. Returns false if the
// participant is not tracked.
func (s *Store) SetCursor(participantID string, cursor Cursor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[participantID]
	if !ok {
		return false
	}
	entry.Cursor = &cursor
	entry.LastActiveAt = time.Now()
	return true
}

// SetSelection overwrites the participant's selected item ids. Returns false
// if the participant is not tracked.
func (s *Store) SetSelection(participantID string, selectedIDs []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[participantID]
	if !ok {
		return false
	}
	entry.Selection = append([]string(nil), selectedIDs...)
	entry.LastActiveAt = time.Now()
	return true
}

// Get returns a copy of the participant's presence state.
func (s *Store) Get(participantID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[participantID]
	if !ok {
		return State{}, false
	}

	state := State{LastActiveAt: entry.LastActiveAt}
	if entry.Cursor != nil {
		cursor := *entry.Cursor
		state.Cursor = &cursor
	}
	state.Selection = append([]string(nil), entry.Selection...)
	return state, true
}

// Remove drops the participant's presence. Removing an untracked id is a
// no-op.
func (s *Store) Remove(participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, participantID)
}

// Len returns the number of tracked participants.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

package session

import (
	"errors"
	"sync"
)

// ErrNoSession is returned by Store.Update when no session is active.
var ErrNoSession = errors.New("session: no active session")

// Store holds the single active capture session and the toolbar position.
// Reads return deep copies; writers go through Set, Update and Clear.
type Store struct {
	mu      sync.RWMutex
	active  *CaptureSession
	toolbar *ToolbarPosition
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Get() (*CaptureSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, false
	}
	return s.active.Clone(), true
}

// Status returns the active session's status, or Idle when there is none.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return Idle
	}
	return s.active.Status
}

func (s *Store) StepCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return 0
	}
	return len(s.active.Steps)
}

// Set replaces the active session with a copy of sess.
func (s *Store) Set(sess *CaptureSession) {
	c := sess.Clone()
	s.mu.Lock()
	s.active = c
	s.mu.Unlock()
}

// Update applies fn to a working copy of the active session and commits it
// only if fn returns nil. The committed state is returned as a copy.
func (s *Store) Update(fn func(*CaptureSession) error) (*CaptureSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, ErrNoSession
	}
	work := s.active.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.active = work
	return work.Clone(), nil
}

// UpdateAndNotify is Update followed by notify while the write lock is
// still held, so readers never observe the new state before observers do.
func (s *Store) UpdateAndNotify(fn func(*CaptureSession) error, notify func(*CaptureSession)) (*CaptureSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, ErrNoSession
	}
	work := s.active.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.active = work
	snap := work.Clone()
	if notify != nil {
		notify(snap)
	}
	return snap, nil
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

func (s *Store) Toolbar() (ToolbarPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.toolbar == nil {
		return ToolbarPosition{}, false
	}
	return *s.toolbar, true
}

func (s *Store) SetToolbar(p ToolbarPosition) {
	s.mu.Lock()
	s.toolbar = &p
	s.mu.Unlock()
}

func (s *Store) ClearToolbar() {
	s.mu.Lock()
	s.toolbar = nil
	s.mu.Unlock()
}

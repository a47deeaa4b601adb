package call

import (
	"errors"
	"sync"
)

// Session is one call: a connection plus the local mute state.
type Session struct {
	mgr *Manager

	mu    sync.Mutex
	muted bool
}

// NewSession wraps a connected manager.
func NewSession(mgr *Manager) *Session {
	return &Session{mgr: mgr}
}

// Muted reports the current mute state.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// ToggleMute flips the mute state and tells the backend. The state only
// changes when the command was sent.
func (s *Session) ToggleMute() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := CommandMute
	if s.muted {
		cmd = CommandUnmute
	}
	if err := s.mgr.SendCommand(cmd); err != nil {
		return s.muted, err
	}
	s.muted = !s.muted
	return s.muted, nil
}

// End sends end_call and disconnects. The connection is closed even when the
// command could not be sent.
func (s *Session) End() error {
	sendErr := s.mgr.SendCommand(CommandEndCall)
	if errors.Is(sendErr, ErrNotConnected) {
		sendErr = nil
	}
	return errors.Join(sendErr, s.mgr.Disconnect())
}

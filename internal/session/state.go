// Package session owns the process-wide turn-state signals shared between
// the producers and the turn controller.
package session

import "sync"

// State holds the shared gating signals. All access goes through the typed
// accessors; readers always observe the latest write.
//
// captureActive: a human utterance is currently being transcribed.
// playbackActive: a synthesized reply is currently playing.
// turnInFlight: a turn was submitted and no terminal event has arrived yet.
// micEnabled: the capture device may feed audio to the dialogue channel.
type State struct {
	mu             sync.Mutex
	captureActive  bool
	playbackActive bool
	turnInFlight   bool
	micEnabled     bool
}

// New returns a State with the microphone enabled and everything else idle.
func New() *State {
	return &State{micEnabled: true}
}

func (s *State) CaptureActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureActive
}

func (s *State) SetCaptureActive(v bool) {
	s.mu.Lock()
	s.captureActive = v
	s.mu.Unlock()
}

func (s *State) PlaybackActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playbackActive
}

func (s *State) SetPlaybackActive(v bool) {
	s.mu.Lock()
	s.playbackActive = v
	s.mu.Unlock()
}

func (s *State) TurnInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnInFlight
}

func (s *State) SetTurnInFlight(v bool) {
	s.mu.Lock()
	s.turnInFlight = v
	s.mu.Unlock()
}

func (s *State) MicEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micEnabled
}

func (s *State) SetMicEnabled(v bool) {
	s.mu.Lock()
	s.micEnabled = v
	s.mu.Unlock()
}

// Ready reports whether a new arbitration pass may start: no capture in
// progress, no reply playing, no turn in flight.
func (s *State) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.captureActive && !s.playbackActive && !s.turnInFlight
}

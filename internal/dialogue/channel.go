// Package dialogue defines the duplex channel the turn controller speaks
// over, and its realtime WebSocket implementation.
package dialogue

import (
	"context"

	"github.com/niama/aiko/internal/model"
)

// EventKind discriminates events delivered by a Channel.
type EventKind int

const (
	// EventReplyDelta carries an incremental chunk of the reply text.
	EventReplyDelta EventKind = iota
	// EventReplyFinal carries the complete reply text; the turn's textual
	// content is finalized at this point.
	EventReplyFinal
	// EventClassificationFinal carries the emotion label produced by the
	// follow-up classification request.
	EventClassificationFinal
	// EventDisconnected signals that the underlying transport dropped.
	// The channel reconnects on its own; the controller must fall back
	// to idle so a stalled turn cannot block future turns.
	EventDisconnected
)

// Event is one message from the channel to the turn controller.
type Event struct {
	Kind  EventKind
	Text  string // delta chunk, final reply, or classification justification
	Label string // classification label, EventClassificationFinal only
}

// Emotion labels the dialogue engine may pick during the follow-up
// classification. "none" means no hotkey-worthy emotion was detected.
var EmotionLabels = []string{"pout", "starry_eyes", "heart_eyes", "blush", "gloom", "none"}

// Channel is a duplex streaming conversation transport. Exactly one
// consumer (the turn controller) reads Events and calls the send methods;
// producers never touch it.
type Channel interface {
	// SendTurn submits the ordered context entries of one turn. The reply
	// arrives as EventReplyDelta chunks terminated by EventReplyFinal.
	SendTurn(ctx context.Context, entries []model.PayloadEntry) error

	// SendClassification asks for an emotion label over the exchange just
	// produced by SendTurn. The result arrives as EventClassificationFinal.
	SendClassification(ctx context.Context) error

	// Events delivers channel events in arrival order.
	Events() <-chan Event
}

// AudioSink receives synthesized reply audio. Devices are out of scope for
// the core; implementations surface their busy state through the session
// playback signal.
type AudioSink interface {
	Enqueue(pcm []byte)
}

// AudioSource yields captured microphone frames.
type AudioSource interface {
	// ReadFrame blocks until one PCM frame is available.
	ReadFrame() ([]byte, error)
}

// NopSink discards audio, for deployments without a playback device.
type NopSink struct{}

func (NopSink) Enqueue([]byte) {}

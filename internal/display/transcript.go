package display

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// Transcript appends every reply chunk to a backup file so an external
// subtitle overlay can tail it. Writes go through a buffered channel;
// publishing never blocks on disk.
type Transcript struct {
	path string
	ch   chan string
}

// NewTranscript returns a transcript writer for path.
func NewTranscript(path string) *Transcript {
	return &Transcript{path: path, ch: make(chan string, 256)}
}

// PublishQuestion implements turn.Publisher. Questions are not part of the
// spoken transcript.
func (t *Transcript) PublishQuestion(string) {}

// PublishDelta implements turn.Publisher.
func (t *Transcript) PublishDelta(chunk string) {
	select {
	case t.ch <- chunk:
	default:
		// Overlay lag must not stall the turn pipeline.
		log.Warn().Str("component", "display").Msg("transcript buffer full, dropping chunk")
	}
}

// Run drains the buffer to disk until ctx is cancelled.
func (t *Transcript) Run(ctx context.Context) error {
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-t.ch:
			if _, err := f.WriteString(chunk); err != nil {
				log.Error().Err(err).Str("component", "display").Msg("transcript write failed")
				continue
			}
			f.Sync()
		}
	}
}

// Fanout forwards updates to several publishers.
type Fanout []interface {
	PublishQuestion(string)
	PublishDelta(string)
}

func (f Fanout) PublishQuestion(q string) {
	for _, p := range f {
		p.PublishQuestion(q)
	}
}

func (f Fanout) PublishDelta(d string) {
	for _, p := range f {
		p.PublishDelta(d)
	}
}

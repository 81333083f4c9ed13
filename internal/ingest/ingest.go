// Package ingest guards inserts into the backlog from concurrent producers.
package ingest

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/niama/aiko/internal/model"
	"github.com/niama/aiko/internal/store"
	"github.com/niama/aiko/internal/textsim"
)

// Admitter suppresses near-duplicate unanswered questions from the same
// source identity before they reach the backlog. It is safe for use from
// multiple producer goroutines.
type Admitter struct {
	store store.Store
}

// New returns an Admitter writing through to s.
func New(s store.Store) *Admitter {
	return &Admitter{store: s}
}

// Offer records an inbound event. Failures are absorbed: empty text and
// suppressed duplicates are dropped silently, store errors are logged and
// never raised to the caller.
//
// Transcribed speech is authoritative and always recorded. A live-chat
// question is dropped when the same identity already has a pending question
// scoring at or above the duplicate threshold against it.
func (a *Admitter) Offer(ctx context.Context, source string, eventType model.EventType, question string) {
	question = strings.TrimSpace(question)
	if question == "" || !eventType.Valid() {
		return
	}

	if eventType == model.EventLiveChat {
		pending, err := a.store.ListUnanswered(ctx)
		if err != nil {
			log.Error().Err(err).Str("component", "ingest").Msg("list pending for admission check failed")
			return
		}
		for _, rec := range pending {
			if rec.SourceIdentity == source && textsim.Ratio(question, rec.Question) >= textsim.DupThreshold {
				log.Debug().
					Str("component", "ingest").
					Str("source", source).
					Int("pending_id", rec.ID).
					Msg("suppressed duplicate question")
				return
			}
		}
	}

	id, err := a.store.Insert(ctx, source, eventType, question)
	if err != nil {
		log.Error().Err(err).Str("component", "ingest").Str("source", source).Msg("insert failed")
		return
	}
	log.Debug().
		Str("component", "ingest").
		Str("source", source).
		Str("event_type", string(eventType)).
		Int("id", id).
		Msg("recorded question")
}

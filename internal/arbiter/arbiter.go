// Package arbiter selects the one cluster of pending questions a turn
// should answer, and assembles the context submitted to the dialogue engine.
package arbiter

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/niama/aiko/internal/model"
	"github.com/niama/aiko/internal/store"
	"github.com/niama/aiko/internal/textsim"
)

// priority is strict: while any speech record is pending, live chat is not
// considered at all.
var priority = []model.EventType{model.EventSpeech, model.EventLiveChat}

// Arbiter builds turn payloads from the backlog.
type Arbiter struct {
	store   store.Store
	persona string
	entropy *rand.Rand
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithEntropy overrides the random source used for representative and
// memory selection.
func WithEntropy(r *rand.Rand) Option {
	return func(a *Arbiter) { a.entropy = r }
}

// New returns an Arbiter reading from s. The persona text becomes the
// role-setting preamble of every payload.
func New(s store.Store, persona string, opts ...Option) *Arbiter {
	a := &Arbiter{
		store:   s,
		persona: persona,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SelectTurn returns the payload for the next turn, or nil when the backlog
// holds no pending records.
//
// Clustering is seed-relative, not a transitive partition: the seed is the
// first pending record of the winning tier in store order, and the cluster
// is the seed plus every other pending record of the same event type
// scoring at or above the duplicate threshold against it. Two cluster
// members may score below threshold against each other.
func (a *Arbiter) SelectTurn(ctx context.Context) (*model.TurnPayload, error) {
	records, err := a.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load backlog: %w", err)
	}

	var cluster []model.ChatRecord
	for _, tier := range priority {
		cluster = clusterFor(records, tier)
		if len(cluster) > 0 {
			break
		}
	}
	if len(cluster) == 0 {
		return nil, nil
	}

	rep := cluster[a.entropy.Intn(len(cluster))]

	payload := &model.TurnPayload{
		Representative: rep.Question,
		Entries:        []model.PayloadEntry{{Role: model.RoleSystem, Text: a.persona}},
	}
	for _, rec := range cluster {
		payload.CommitIDs = append(payload.CommitIDs, rec.ID)
		payload.Entries = append(payload.Entries, model.PayloadEntry{
			Role: model.RoleUser,
			Text: fmt.Sprintf("%s: %s", rec.SourceIdentity, rec.Question),
		})
	}

	// Recall one similar answered exchange as prior context. The recalled
	// record stays out of CommitIDs so history survives being referenced.
	if mem, ok := a.recall(records, rep); ok {
		payload.MemoryID = mem.ID
		payload.Entries = append(payload.Entries,
			model.PayloadEntry{Role: model.RoleUser, Text: fmt.Sprintf("%s: %s", mem.SourceIdentity, mem.Question)},
			model.PayloadEntry{Role: model.RoleAssistant, Text: mem.Response},
		)
	}

	log.Debug().
		Str("component", "arbiter").
		Str("event_type", string(rep.EventType)).
		Ints("cluster", payload.CommitIDs).
		Int("memory_id", payload.MemoryID).
		Msg("turn selected")

	return payload, nil
}

func clusterFor(records []model.ChatRecord, tier model.EventType) []model.ChatRecord {
	var seed *model.ChatRecord
	for i := range records {
		if !records[i].Answered && records[i].EventType == tier {
			seed = &records[i]
			break
		}
	}
	if seed == nil {
		return nil
	}

	cluster := []model.ChatRecord{*seed}
	for _, rec := range records {
		if rec.Answered || rec.ID == seed.ID || rec.EventType != tier {
			continue
		}
		if textsim.Ratio(seed.Question, rec.Question) >= textsim.DupThreshold {
			cluster = append(cluster, rec)
		}
	}
	return cluster
}

func (a *Arbiter) recall(records []model.ChatRecord, rep model.ChatRecord) (model.ChatRecord, bool) {
	var answered []model.ChatRecord
	for _, rec := range records {
		if !rec.Answered || rec.EventType != rep.EventType {
			continue
		}
		if textsim.Ratio(rep.Question, rec.Question) >= textsim.DupThreshold {
			answered = append(answered, rec)
		}
	}
	if len(answered) == 0 {
		return model.ChatRecord{}, false
	}
	return answered[a.entropy.Intn(len(answered))], true
}

// Package turn drives the listen/think/speak cycle: a single-consumer state
// machine gating arbitration, dialogue submission and commit.
package turn

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/niama/aiko/internal/arbiter"
	"github.com/niama/aiko/internal/dialogue"
	"github.com/niama/aiko/internal/model"
	"github.com/niama/aiko/internal/session"
	"github.com/niama/aiko/internal/store"
)

// Phase is the controller's current position in the turn cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingArbitration
	PhaseInFlight
	PhaseEmoting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingArbitration:
		return "awaiting_arbitration"
	case PhaseInFlight:
		return "in_flight"
	case PhaseEmoting:
		return "emoting"
	}
	return "unknown"
}

// Publisher receives observer-facing updates: the representative question of
// the current turn and streamed reply chunks.
type Publisher interface {
	PublishQuestion(q string)
	PublishDelta(chunk string)
}

// Emoter triggers an avatar reaction for a classification label.
type Emoter interface {
	Emote(label string)
}

// NopPublisher ignores all updates.
type NopPublisher struct{}

func (NopPublisher) PublishQuestion(string) {}
func (NopPublisher) PublishDelta(string)    {}

// NopEmoter ignores all labels.
type NopEmoter struct{}

func (NopEmoter) Emote(string) {}

// Controller owns the turn cycle. It is the only caller of SelectTurn and
// Commit; producers only ever touch the backlog and the shared signals.
type Controller struct {
	arb     *arbiter.Arbiter
	store   store.Store
	state   *session.State
	channel dialogue.Channel
	pub     Publisher
	emoter  Emoter

	interval time.Duration

	phase   Phase
	current *model.TurnPayload
	turnID  string
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval overrides the idle polling interval.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval = d }
}

// WithPublisher attaches an observer surface.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.pub = p }
}

// WithEmoter attaches an avatar reaction sink.
func WithEmoter(e Emoter) Option {
	return func(c *Controller) { c.emoter = e }
}

// New wires a Controller. The polling interval defaults to 10ms, matching
// the bounded-latency contract of the idle driver.
func New(arb *arbiter.Arbiter, st store.Store, state *session.State, ch dialogue.Channel, opts ...Option) *Controller {
	c := &Controller{
		arb:      arb,
		store:    st,
		state:    state,
		channel:  ch,
		pub:      NopPublisher{},
		emoter:   NopEmoter{},
		interval: 10 * time.Millisecond,
		phase:    PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phase returns the current phase. Only meaningful from the consumer
// goroutine; exposed for tests and status surfaces.
func (c *Controller) Phase() Phase { return c.phase }

// Run drives the state machine until ctx is cancelled. It polls for
// arbitration opportunities on a fixed interval and consumes channel events
// as they arrive; there is exactly one Run per Controller.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.channel.Events():
			c.handleEvent(ctx, ev)
		case <-ticker.C:
			c.tryBeginTurn(ctx)
		}
	}
}

// tryBeginTurn attempts Idle -> AwaitingArbitration -> InFlight. The
// transition is rejected while any gating signal is set.
func (c *Controller) tryBeginTurn(ctx context.Context) {
	if c.phase != PhaseIdle || !c.state.Ready() {
		return
	}
	c.phase = PhaseAwaitingArbitration

	payload, err := c.arb.SelectTurn(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "turn").Msg("arbitration failed")
		c.phase = PhaseIdle
		return
	}
	if payload == nil {
		c.phase = PhaseIdle
		return
	}

	c.turnID = ulid.Make().String()
	c.current = payload
	c.state.SetTurnInFlight(true)
	c.pub.PublishQuestion(payload.Representative)

	if err := c.channel.SendTurn(ctx, payload.Entries); err != nil {
		log.Error().Err(err).Str("component", "turn").Str("turn_id", c.turnID).Msg("turn submission failed")
		c.reset()
		return
	}
	c.phase = PhaseInFlight
	log.Info().
		Str("component", "turn").
		Str("turn_id", c.turnID).
		Str("question", payload.Representative).
		Ints("commit_ids", payload.CommitIDs).
		Msg("turn in flight")
}

func (c *Controller) handleEvent(ctx context.Context, ev dialogue.Event) {
	switch ev.Kind {
	case dialogue.EventReplyDelta:
		if c.phase == PhaseInFlight {
			c.pub.PublishDelta(ev.Text)
		}

	case dialogue.EventReplyFinal:
		if c.phase != PhaseInFlight {
			log.Warn().Str("component", "turn").Str("phase", c.phase.String()).Msg("reply-final outside in-flight phase")
			return
		}
		c.finishReply(ctx, ev.Text)

	case dialogue.EventClassificationFinal:
		if c.phase != PhaseEmoting {
			log.Warn().Str("component", "turn").Str("phase", c.phase.String()).Msg("classification outside emoting phase")
			return
		}
		c.emoter.Emote(ev.Label)
		log.Debug().Str("component", "turn").Str("turn_id", c.turnID).Str("emotion", ev.Label).Msg("turn complete")
		c.reset()

	case dialogue.EventDisconnected:
		// A stalled turn must never block future turns.
		if c.phase != PhaseIdle {
			log.Warn().Str("component", "turn").Str("turn_id", c.turnID).Msg("channel dropped mid-turn, resetting")
		}
		c.reset()
	}
}

// finishReply commits the turn's cluster synchronously, then asks the
// channel for the emotion classification follow-up.
func (c *Controller) finishReply(ctx context.Context, finalText string) {
	survivor, err := c.store.Commit(ctx, c.current.CommitIDs, finalText)
	if err != nil {
		log.Error().Err(err).Str("component", "turn").Str("turn_id", c.turnID).Msg("commit failed")
	} else {
		log.Debug().
			Str("component", "turn").
			Str("turn_id", c.turnID).
			Int("survivor", survivor).
			Ints("collapsed", c.current.CommitIDs).
			Msg("cluster committed")
	}

	if err := c.channel.SendClassification(ctx); err != nil {
		log.Error().Err(err).Str("component", "turn").Str("turn_id", c.turnID).Msg("classification request failed")
		c.reset()
		return
	}
	c.phase = PhaseEmoting
}

// reset returns to Idle and restores the capture signals. The channel owns
// captureActive and micEnabled during a healthy cycle, but after a drop or
// a failed request no transcription event will ever clear them, so the
// controller must, or Ready() stays false forever.
func (c *Controller) reset() {
	c.phase = PhaseIdle
	c.current = nil
	c.state.SetTurnInFlight(false)
	c.state.SetCaptureActive(false)
	c.state.SetMicEnabled(true)
}

package turn

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/niama/aiko/internal/arbiter"
	"github.com/niama/aiko/internal/dialogue"
	"github.com/niama/aiko/internal/model"
	"github.com/niama/aiko/internal/session"
	"github.com/niama/aiko/internal/store"
)

type fakeChannel struct {
	mu              sync.Mutex
	events          chan dialogue.Event
	turns           [][]model.PayloadEntry
	classifications int
	failSend        bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan dialogue.Event, 8)}
}

func (f *fakeChannel) SendTurn(ctx context.Context, entries []model.PayloadEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return context.DeadlineExceeded
	}
	f.turns = append(f.turns, entries)
	return nil
}

func (f *fakeChannel) SendClassification(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifications++
	return nil
}

func (f *fakeChannel) Events() <-chan dialogue.Event { return f.events }

func (f *fakeChannel) sentTurns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

type capturePublisher struct {
	mu        sync.Mutex
	questions []string
	deltas    []string
}

func (p *capturePublisher) PublishQuestion(q string) {
	p.mu.Lock()
	p.questions = append(p.questions, q)
	p.mu.Unlock()
}

func (p *capturePublisher) PublishDelta(d string) {
	p.mu.Lock()
	p.deltas = append(p.deltas, d)
	p.mu.Unlock()
}

type captureEmoter struct {
	labels []string
}

func (e *captureEmoter) Emote(label string) { e.labels = append(e.labels, label) }

func newFixture(t *testing.T) (*Controller, *store.SQLiteStore, *session.State, *fakeChannel, *capturePublisher, *captureEmoter) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	state := session.New()
	ch := newFakeChannel()
	pub := &capturePublisher{}
	em := &captureEmoter{}
	arb := arbiter.New(s, "persona", arbiter.WithEntropy(rand.New(rand.NewSource(1))))
	c := New(arb, s, state, ch,
		WithInterval(time.Millisecond),
		WithPublisher(pub),
		WithEmoter(em),
	)
	return c, s, state, ch, pub, em
}

func TestFullTurnCycle(t *testing.T) {
	ctx := context.Background()
	c, s, state, ch, pub, em := newFixture(t)

	id, _ := s.Insert(ctx, "alice", model.EventLiveChat, "what is your name")

	c.tryBeginTurn(ctx)
	if c.Phase() != PhaseInFlight {
		t.Fatalf("expected in-flight, got %s", c.Phase())
	}
	if !state.TurnInFlight() {
		t.Error("turnInFlight not set")
	}
	if ch.sentTurns() != 1 {
		t.Fatalf("expected 1 submitted turn, got %d", ch.sentTurns())
	}
	if len(pub.questions) != 1 || pub.questions[0] != "what is your name" {
		t.Errorf("representative not published: %v", pub.questions)
	}

	c.handleEvent(ctx, dialogue.Event{Kind: dialogue.EventReplyDelta, Text: "Ai"})
	c.handleEvent(ctx, dialogue.Event{Kind: dialogue.EventReplyDelta, Text: "ko"})
	if len(pub.deltas) != 2 {
		t.Errorf("expected 2 delta chunks published, got %d", len(pub.deltas))
	}

	c.handleEvent(ctx, dialogue.Event{Kind: dialogue.EventReplyFinal, Text: "Aiko"})
	if c.Phase() != PhaseEmoting {
		t.Fatalf("expected emoting after reply-final, got %s", c.Phase())
	}
	if ch.classifications != 1 {
		t.Errorf("expected classification follow-up, got %d", ch.classifications)
	}

	all, _ := s.ListAll(ctx)
	if len(all) != 1 || all[0].ID != id || !all[0].Answered || all[0].Response != "Aiko" {
		t.Errorf("commit did not land: %+v", all)
	}

	c.handleEvent(ctx, dialogue.Event{Kind: dialogue.EventClassificationFinal, Label: "blush"})
	if c.Phase() != PhaseIdle {
		t.Errorf("expected idle after classification, got %s", c.Phase())
	}
	if state.TurnInFlight() {
		t.Error("turnInFlight still set after turn completed")
	}
	if !state.MicEnabled() {
		t.Error("mic not re-enabled after turn completed")
	}
	if len(em.labels) != 1 || em.labels[0] != "blush" {
		t.Errorf("emotion label not delivered: %v", em.labels)
	}
}

func TestIdleSafetyWhileInFlight(t *testing.T) {
	ctx := context.Background()
	c, s, state, ch, _, _ := newFixture(t)

	s.Insert(ctx, "alice", model.EventLiveChat, "q")
	state.SetTurnInFlight(true)

	c.tryBeginTurn(ctx)
	if c.Phase() != PhaseIdle {
		t.Errorf("transition must be rejected while a turn is in flight, got %s", c.Phase())
	}
	if ch.sentTurns() != 0 {
		t.Errorf("no turn should be submitted, got %d", ch.sentTurns())
	}

	state.SetTurnInFlight(false)
	c.tryBeginTurn(ctx)
	if c.Phase() != PhaseInFlight {
		t.Errorf("expected in-flight once the signal cleared, got %s", c.Phase())
	}
}

func TestGatingSignalsBlockArbitration(t *testing.T) {
	ctx := context.Background()
	c, s, state, ch, _, _ := newFixture(t)
	s.Insert(ctx, "alice", model.EventLiveChat, "q")

	state.SetCaptureActive(true)
	c.tryBeginTurn(ctx)
	state.SetCaptureActive(false)

	state.SetPlaybackActive(true)
	c.tryBeginTurn(ctx)
	state.SetPlaybackActive(false)

	if ch.sentTurns() != 0 {
		t.Errorf("gating signals ignored, %d turns submitted", ch.sentTurns())
	}
}

func TestEmptyBacklogStaysIdle(t *testing.T) {
	ctx := context.Background()
	c, _, state, ch, _, _ := newFixture(t)

	c.tryBeginTurn(ctx)
	if c.Phase() != PhaseIdle {
		t.Errorf("expected idle with empty backlog, got %s", c.Phase())
	}
	if state.TurnInFlight() || ch.sentTurns() != 0 {
		t.Error("no turn should exist for an empty backlog")
	}
}

func TestDisconnectResetsMidTurn(t *testing.T) {
	ctx := context.Background()
	c, s, state, _, _, _ := newFixture(t)

	s.Insert(ctx, "alice", model.EventLiveChat, "q")
	c.tryBeginTurn(ctx)
	if c.Phase() != PhaseInFlight {
		t.Fatalf("setup: expected in-flight, got %s", c.Phase())
	}

	c.handleEvent(ctx, dialogue.Event{Kind: dialogue.EventDisconnected})
	if c.Phase() != PhaseIdle {
		t.Errorf("expected idle after disconnect, got %s", c.Phase())
	}
	if state.TurnInFlight() {
		t.Error("turnInFlight must clear on disconnect so turns cannot stall")
	}
}

func TestDisconnectMidCaptureRestoresSignals(t *testing.T) {
	ctx := context.Background()
	c, s, state, ch, _, _ := newFixture(t)

	// Speech started, then the channel dropped before the transcription
	// completed: no event will ever clear the capture signals.
	state.SetCaptureActive(true)
	state.SetMicEnabled(false)

	c.handleEvent(ctx, dialogue.Event{Kind: dialogue.EventDisconnected})
	if state.CaptureActive() {
		t.Error("captureActive not cleared after disconnect")
	}
	if !state.MicEnabled() {
		t.Error("mic not re-enabled after disconnect")
	}
	if !state.Ready() {
		t.Fatal("controller still gated after disconnect recovery")
	}

	s.Insert(ctx, "alice", model.EventLiveChat, "q")
	c.tryBeginTurn(ctx)
	if c.Phase() != PhaseInFlight || ch.sentTurns() != 1 {
		t.Errorf("no turn could start after recovery, phase %s, %d turns", c.Phase(), ch.sentTurns())
	}
}

func TestSendFailureResets(t *testing.T) {
	ctx := context.Background()
	c, s, state, ch, _, _ := newFixture(t)

	s.Insert(ctx, "alice", model.EventLiveChat, "q")
	ch.failSend = true

	c.tryBeginTurn(ctx)
	if c.Phase() != PhaseIdle {
		t.Errorf("expected idle after submission failure, got %s", c.Phase())
	}
	if state.TurnInFlight() {
		t.Error("turnInFlight must clear after submission failure")
	}
}

func TestLateEventsIgnored(t *testing.T) {
	ctx := context.Background()
	c, s, _, ch, _, em := newFixture(t)

	// Reply-final with no turn in flight must not commit anything.
	s.Insert(ctx, "alice", model.EventLiveChat, "q")
	c.handleEvent(ctx, dialogue.Event{Kind: dialogue.EventReplyFinal, Text: "stray"})
	pending, _ := s.ListUnanswered(ctx)
	if len(pending) != 1 {
		t.Errorf("stray reply-final mutated the backlog")
	}
	if ch.classifications != 0 {
		t.Errorf("stray reply-final triggered classification")
	}

	c.handleEvent(ctx, dialogue.Event{Kind: dialogue.EventClassificationFinal, Label: "pout"})
	if len(em.labels) != 0 {
		t.Errorf("stray classification reached the emoter")
	}
}

func TestRunDrivesFullTurn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, s, _, ch, _, _ := newFixture(t)

	s.Insert(ctx, "host", model.EventSpeech, "hello everyone")

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	waitFor(t, func() bool { return ch.sentTurns() == 1 })
	ch.events <- dialogue.Event{Kind: dialogue.EventReplyFinal, Text: "hi chat"}
	ch.events <- dialogue.Event{Kind: dialogue.EventClassificationFinal, Label: "none"}

	waitFor(t, func() bool {
		all, _ := s.ListAll(context.Background())
		return len(all) == 1 && all[0].Answered && all[0].Response == "hi chat"
	})

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

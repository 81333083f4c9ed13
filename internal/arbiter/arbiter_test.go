package arbiter

import (
	"context"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/niama/aiko/internal/model"
	"github.com/niama/aiko/internal/store"
)

const persona = "You are Aiko, a cheerful virtual streamer."

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seeded() Option {
	return WithEntropy(rand.New(rand.NewSource(7)))
}

func TestSelectTurnEmptyBacklog(t *testing.T) {
	ctx := context.Background()
	a := New(newTestStore(t), persona, seeded())

	payload, err := a.SelectTurn(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if payload != nil {
		t.Errorf("expected nil payload for empty backlog, got %+v", payload)
	}
}

func TestSelectTurnSingleQuestion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, _ := s.Insert(ctx, "alice", model.EventLiveChat, "what is your name")

	a := New(s, persona, seeded())
	payload, err := a.SelectTurn(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if payload == nil {
		t.Fatal("expected a payload")
	}
	if len(payload.CommitIDs) != 1 || payload.CommitIDs[0] != id {
		t.Errorf("expected commit ids [%d], got %v", id, payload.CommitIDs)
	}
	if payload.Representative != "what is your name" {
		t.Errorf("unexpected representative %q", payload.Representative)
	}
	if len(payload.Entries) != 2 {
		t.Fatalf("expected persona + question, got %d entries", len(payload.Entries))
	}
	if payload.Entries[0].Role != model.RoleSystem || payload.Entries[0].Text != persona {
		t.Errorf("expected persona preamble first, got %+v", payload.Entries[0])
	}
	if payload.Entries[1].Role != model.RoleUser || payload.Entries[1].Text != "alice: what is your name" {
		t.Errorf("unexpected question entry %+v", payload.Entries[1])
	}
}

func TestSelectTurnSpeechPriority(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	speechID, _ := s.Insert(ctx, "host", model.EventSpeech, "what is your name")
	s.Insert(ctx, "alice", model.EventLiveChat, "what is your name")

	a := New(s, persona, seeded())
	payload, err := a.SelectTurn(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(payload.CommitIDs) != 1 || payload.CommitIDs[0] != speechID {
		t.Errorf("speech priority violated, commit ids %v", payload.CommitIDs)
	}
}

func TestSelectTurnClustersAcrossIdentities(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Insert(ctx, "alice", model.EventLiveChat, "what is your name")
	s.Insert(ctx, "bob", model.EventLiveChat, "what is your name?")
	s.Insert(ctx, "carol", model.EventLiveChat, "tell me about black holes and event horizons")

	a := New(s, persona, seeded())
	payload, _ := a.SelectTurn(ctx)

	got := append([]int(nil), payload.CommitIDs...)
	sort.Ints(got)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("expected cluster {1,2}, got %v", got)
	}
	// One user entry per cluster member, questions only.
	users := 0
	for _, e := range payload.Entries {
		if e.Role == model.RoleUser {
			users++
		}
		if e.Role == model.RoleAssistant {
			t.Errorf("unanswered cluster produced assistant entry %+v", e)
		}
	}
	if users != 2 {
		t.Errorf("expected 2 user entries, got %d", users)
	}
}

func TestSelectTurnNoCrossTypeClustering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	speechID, _ := s.Insert(ctx, "host", model.EventSpeech, "what is your name")
	s.Insert(ctx, "alice", model.EventLiveChat, "what is your name")

	a := New(s, persona, seeded())
	payload, _ := a.SelectTurn(ctx)
	if len(payload.CommitIDs) != 1 || payload.CommitIDs[0] != speechID {
		t.Errorf("live chat leaked into a speech cluster: %v", payload.CommitIDs)
	}
}

func TestSelectTurnMemoryRecall(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	memID, _ := s.Insert(ctx, "dave", model.EventLiveChat, "what is your name")
	s.MarkAnswered(ctx, memID, "I am Aiko!")
	askID, _ := s.Insert(ctx, "alice", model.EventLiveChat, "what is your name?")

	a := New(s, persona, seeded())
	payload, _ := a.SelectTurn(ctx)

	if payload.MemoryID != memID {
		t.Errorf("expected memory id %d, got %d", memID, payload.MemoryID)
	}
	for _, id := range payload.CommitIDs {
		if id == memID {
			t.Error("memory record must not enter the commit set")
		}
	}
	if len(payload.CommitIDs) != 1 || payload.CommitIDs[0] != askID {
		t.Errorf("unexpected commit ids %v", payload.CommitIDs)
	}

	// Memory pair comes last: recalled question then historical answer.
	n := len(payload.Entries)
	if n < 2 || payload.Entries[n-1].Role != model.RoleAssistant || payload.Entries[n-1].Text != "I am Aiko!" {
		t.Errorf("expected historical answer as final entry, got %+v", payload.Entries[n-1])
	}
	if payload.Entries[n-2].Role != model.RoleUser {
		t.Errorf("expected recalled question before answer, got %+v", payload.Entries[n-2])
	}
}

func TestSelectTurnMemoryTypeScoped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	memID, _ := s.Insert(ctx, "host", model.EventSpeech, "what is your name")
	s.MarkAnswered(ctx, memID, "Aiko")
	s.Insert(ctx, "alice", model.EventLiveChat, "what is your name")

	a := New(s, persona, seeded())
	payload, _ := a.SelectTurn(ctx)
	if payload.MemoryID != 0 {
		t.Errorf("speech memory must not attach to a live-chat turn, got id %d", payload.MemoryID)
	}
}

func TestSelectTurnSkipsAnswered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, _ := s.Insert(ctx, "alice", model.EventLiveChat, "q")
	s.MarkAnswered(ctx, id, "r")

	a := New(s, persona, seeded())
	payload, err := a.SelectTurn(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if payload != nil {
		t.Errorf("fully answered backlog produced a payload: %+v", payload)
	}
}

func TestEndToEndPriorityThenNextPass(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Insert(ctx, "host", model.EventSpeech, "what is your name")
	s.Insert(ctx, "alice", model.EventLiveChat, "what is your name")

	a := New(s, persona, seeded())

	payload, _ := a.SelectTurn(ctx)
	if len(payload.CommitIDs) != 1 || payload.CommitIDs[0] != 1 {
		t.Fatalf("first pass should pick the speech record, got %v", payload.CommitIDs)
	}
	if _, err := s.Commit(ctx, payload.CommitIDs, "Aiko"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	payload, _ = a.SelectTurn(ctx)
	if payload == nil {
		t.Fatal("expected the live-chat record on the second pass")
	}
	if len(payload.CommitIDs) != 1 || payload.CommitIDs[0] != 2 {
		t.Errorf("second pass should pick the live-chat record, got %v", payload.CommitIDs)
	}
	// The answered speech record is speech-typed, so it is not recalled
	// as memory for a live-chat turn.
	if payload.MemoryID != 0 {
		t.Errorf("unexpected memory id %d", payload.MemoryID)
	}
}

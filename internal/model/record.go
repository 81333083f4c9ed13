// Package model defines the core backlog data types.
package model

// EventType classifies where a question came from. Speech outranks live
// chat during arbitration, and records only cluster within one event type.
type EventType string

const (
	// EventSpeech is a transcribed utterance from the human host.
	EventSpeech EventType = "speech"
	// EventLiveChat is a normalized message from a live-chat platform.
	EventLiveChat EventType = "live_chat"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventSpeech || t == EventLiveChat
}

// ChatRecord is the sole persisted entity: one pending or answered exchange.
type ChatRecord struct {
	// ID is a positive integer. Allocation is gap-filling: the smallest
	// id not currently in use, not a monotonic auto-increment.
	ID             int       `json:"id"`
	SourceIdentity string    `json:"source_identity"`
	EventType      EventType `json:"event_type"`
	Question       string    `json:"question"`
	// Response is set exactly once, by the commit step. Non-empty iff
	// Answered is true.
	Response string `json:"response,omitempty"`
	Answered bool   `json:"answered"`
}

// EntryRole labels one context entry of a turn payload.
type EntryRole string

const (
	RoleSystem    EntryRole = "system"
	RoleUser      EntryRole = "user"
	RoleAssistant EntryRole = "assistant"
)

// PayloadEntry is one ordered context entry submitted with a turn.
type PayloadEntry struct {
	Role EntryRole `json:"role"`
	Text string    `json:"text"`
}

// TurnPayload is the ephemeral product of one arbitration pass: the ordered
// context for the dialogue engine plus the record ids that must be
// reconciled once the turn completes.
type TurnPayload struct {
	// Entries holds the persona preamble, one user entry per cluster
	// member, and (last, if present) the recalled question/answer pair.
	Entries []PayloadEntry

	// Representative is the question text shown to observers for this turn.
	Representative string

	// CommitIDs are the unanswered cluster members collapsed to a single
	// answered record when the turn completes.
	CommitIDs []int

	// MemoryID is the answered record injected as prior context, if any.
	// It is reported for auditability but never committed or deleted.
	MemoryID int
}

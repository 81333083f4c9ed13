// Package store provides the backlog storage interface and SQLite implementation.
package store

import (
	"context"

	"github.com/niama/aiko/internal/model"
)

// Stats summarizes the backlog for observability surfaces.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Answered   int `json:"answered"`
	SpeechPend int `json:"speech_pending"`
	ChatPend   int `json:"live_chat_pending"`
}

// Store defines the backlog storage interface.
//
// Implementations must serialize id allocation, insert, update and delete
// against each other: two concurrent inserts must never be assigned the
// same id, and a commit must never race an insert onto a reused id.
type Store interface {
	// Insert creates an unanswered record and returns its id. The id is
	// the smallest positive integer not currently in use.
	Insert(ctx context.Context, source string, eventType model.EventType, question string) (int, error)

	// ListUnanswered returns all pending records in id order.
	ListUnanswered(ctx context.Context) ([]model.ChatRecord, error)

	// ListAll returns every record in id order.
	ListAll(ctx context.Context) ([]model.ChatRecord, error)

	// MarkAnswered sets the final response on one record.
	MarkAnswered(ctx context.Context, id int, response string) error

	// Delete removes one record.
	Delete(ctx context.Context, id int) error

	// Commit reconciles a turn's id set down to one durable answered
	// record: a uniformly chosen survivor receives the response, every
	// other id is deleted. Returns the survivor id.
	Commit(ctx context.Context, ids []int, response string) (int, error)

	// Stats reports backlog counts.
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the store.
	Close() error
}

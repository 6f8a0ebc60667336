// Package history persists finalized chat messages per session.
package history

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Record is one finalized user or bot message.
type Record struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	QuestionID string    `json:"question_id,omitempty"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	ErrorKey   string    `json:"error_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists and retrieves chat history.
type Store interface {
	SaveMessage(ctx context.Context, record Record) error
	SessionHistory(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}

const DefaultHistoryLimit = 50

// latest keeps the last limit records of a chronological slice.
func latest(records []Record, limit int) []Record {
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]Record, limit)
	copy(out, records[len(records)-limit:])
	return out
}

func reverse(records []Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

package chat

import (
	"context"
	"strings"
	"time"
)

// Record is a persisted transcript line.
type Record struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	PanelID     string    `json:"panel_id"`
	AgentID     string    `json:"agent_id"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves transcript lines.
type Store interface {
	SaveLine(ctx context.Context, record Record) error
	Recent(ctx context.Context, userID, agentID string, limit int) ([]Record, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

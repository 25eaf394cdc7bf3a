// Package postgres implements ports.DocStore over PostgreSQL via pgx,
// grounded on nevindra-oasis's store/postgres package: an externally-owned
// *pgxpool.Pool injected by the caller, an idempotent Init that runs
// CREATE TABLE/INDEX IF NOT EXISTS DDL, parameterized queries, and an
// ON CONFLICT upsert so replays of the same message id are harmless.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// Store implements ports.DocStore over a caller-owned connection pool. The
// caller is responsible for constructing and closing pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-open pool. It does not take ownership: callers close
// pool themselves once the orchestrator process shuts down.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ ports.DocStore = (*Store)(nil)

var ddlStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS messages_id_unique_idx ON messages (id)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_id_idx ON messages (conversation_id, created_at)`,
}

// Init runs the store's DDL. Every statement is idempotent, so Init is safe
// to call on every process startup.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range ddlStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// InsertMessage upserts msg by id: re-inserting an already-seen message id is
// a no-op rather than a duplicate-key error, matching DocStore's "unique
// sparse index on messageId" contract (§1, §6.5).
func (s *Store) InsertMessage(ctx context.Context, msg models.Message) (string, error) {
	var toolCalls []byte
	if len(msg.ToolCalls) > 0 {
		var err error
		toolCalls, err = json.Marshal(msg.ToolCalls)
		if err != nil {
			return "", fmt.Errorf("postgres: marshal tool calls: %w", err)
		}
	}

	const stmt = `
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			tool_calls = EXCLUDED.tool_calls
		RETURNING id`

	var insertedID string
	err := s.pool.QueryRow(ctx, stmt, msg.ID, msg.ConversationID, string(msg.Role), msg.Content, toolCalls, msg.CreatedAt).Scan(&insertedID)
	if err != nil {
		return "", fmt.Errorf("postgres: insert message: %w", err)
	}
	return insertedID, nil
}

// ListMessages returns every message for conversationID in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	const stmt = `
		SELECT id, conversation_id, role, content, tool_calls, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, stmt, conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var (
			msg       models.Message
			role      string
			toolCalls []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &toolCalls, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal tool calls: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	return messages, nil
}

// Close is a no-op: the pool's lifecycle is owned by the process that
// constructed it via pgxpool.New, per nevindra-oasis's convention.
func (s *Store) Close() error {
	return nil
}

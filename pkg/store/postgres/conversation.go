package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callyx/callyx/pkg/store"
	"github.com/callyx/callyx/pkg/types"
)

// ErrConversationNotFound is returned by [ConversationStoreImpl.Finish] and
// [ConversationStoreImpl.Get] when no record with the given call ID exists.
var ErrConversationNotFound = errors.New("conversation not found")

var _ store.ConversationStore = (*ConversationStoreImpl)(nil)

// ConversationStoreImpl is the call-record layer backed by the PostgreSQL
// conversations and conversation_turns tables.
//
// Obtain one via [Store.Conversations] rather than constructing directly.
// All methods are safe for concurrent use.
type ConversationStoreImpl struct {
	pool *pgxpool.Pool
}

// Begin implements [store.ConversationStore]. It creates the call record at
// stream start. Beginning a call whose ID already exists is an error.
func (s *ConversationStoreImpl) Begin(ctx context.Context, conv store.Conversation) error {
	const q = `
		INSERT INTO conversations (call_id, agent_id, phone_number, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	status := conv.Status
	if status == "" {
		status = types.StatusInProgress
	}
	startedAt := conv.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, q, conv.CallID, conv.AgentID, conv.PhoneNumber, string(status), startedAt)
	if err != nil {
		return fmt.Errorf("conversation store: begin %q: %w", conv.CallID, err)
	}
	return nil
}

// AppendTurn implements [store.ConversationStore]. Each turn gets a fresh
// UUID row ID; ordering is preserved by the at timestamp.
func (s *ConversationStoreImpl) AppendTurn(ctx context.Context, callID string, turn types.Turn) error {
	const q = `
		INSERT INTO conversation_turns (id, call_id, user_text, assistant_text, tool_name, at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	at := turn.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.pool.Exec(ctx, q, uuid.NewString(), callID, turn.User, turn.Assistant, turn.ToolName, at)
	if err != nil {
		return fmt.Errorf("conversation store: append turn for %q: %w", callID, err)
	}
	return nil
}

// Finish implements [store.ConversationStore]. It writes the terminal
// status, the rendered transcript, and the end time. Finishing an unknown
// call returns [ErrConversationNotFound].
func (s *ConversationStoreImpl) Finish(ctx context.Context, callID string, status types.CallStatus, transcript string, endedAt time.Time) error {
	const q = `
		UPDATE conversations
		SET    status = $2, transcript = $3, ended_at = $4
		WHERE  call_id = $1`

	tag, err := s.pool.Exec(ctx, q, callID, string(status), transcript, endedAt)
	if err != nil {
		return fmt.Errorf("conversation store: finish %q: %w", callID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation store: finish %q: %w", callID, ErrConversationNotFound)
	}
	return nil
}

// Get returns the conversation record for callID, or
// [ErrConversationNotFound] when no such call exists.
func (s *ConversationStoreImpl) Get(ctx context.Context, callID string) (*store.Conversation, error) {
	const q = `
		SELECT call_id, agent_id, phone_number, status, transcript,
		       started_at, COALESCE(ended_at, 'epoch'::timestamptz)
		FROM   conversations
		WHERE  call_id = $1`

	var conv store.Conversation
	var status string
	err := s.pool.QueryRow(ctx, q, callID).Scan(
		&conv.CallID,
		&conv.AgentID,
		&conv.PhoneNumber,
		&status,
		&conv.Transcript,
		&conv.StartedAt,
		&conv.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation store: get %q: %w", callID, ErrConversationNotFound)
		}
		return nil, fmt.Errorf("conversation store: get %q: %w", callID, err)
	}
	conv.Status = types.CallStatus(status)
	if conv.EndedAt.Unix() == 0 {
		conv.EndedAt = time.Time{}
	}
	return &conv, nil
}

// Turns returns the turn history for callID in append order.
func (s *ConversationStoreImpl) Turns(ctx context.Context, callID string) ([]types.Turn, error) {
	const q = `
		SELECT user_text, assistant_text, tool_name, at
		FROM   conversation_turns
		WHERE  call_id = $1
		ORDER  BY at`

	rows, err := s.pool.Query(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("conversation store: turns for %q: %w", callID, err)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Turn, error) {
		var t types.Turn
		if err := row.Scan(&t.User, &t.Assistant, &t.ToolName, &t.At); err != nil {
			return types.Turn{}, err
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("conversation store: scan turns: %w", err)
	}
	return turns, nil
}

// Package mock provides in-memory test doubles for the store interfaces.
//
// VectorStore returns pre-canned search results and records every call;
// ConversationStore keeps records and turns in maps. Both are safe for
// concurrent use and intended only for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/callyx/callyx/pkg/store"
	"github.com/callyx/callyx/pkg/types"
)

// Compile-time interface assertions.
var (
	_ store.VectorStore       = (*VectorStore)(nil)
	_ store.ConversationStore = (*ConversationStore)(nil)
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	AgentID string
	Vector  []float32
	K       int
}

// VectorStore is a mock implementation of store.VectorStore.
type VectorStore struct {
	mu sync.Mutex

	// SearchResults is returned by Search when SearchFunc is nil.
	SearchResults []store.ScoredChunk

	// SearchFunc, when non-nil, computes the Search result per call.
	SearchFunc func(agentID string, vector []float32, k int) ([]store.ScoredChunk, error)

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// UpsertErr, if non-nil, is returned as the error from Upsert.
	UpsertErr error

	// Upserted accumulates every chunk passed to Upsert in order.
	Upserted []store.Chunk

	// SearchCalls records every call to Search in order.
	SearchCalls []SearchCall

	// DeletedAgents records every agent ID passed to DeleteAgent.
	DeletedAgents []string
}

// Upsert records the chunks and returns UpsertErr.
func (m *VectorStore) Upsert(_ context.Context, chunks []store.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.Upserted = append(m.Upserted, chunks...)
	return nil
}

// Search records the call and returns the configured results.
func (m *VectorStore) Search(_ context.Context, agentID string, vector []float32, k int) ([]store.ScoredChunk, error) {
	m.mu.Lock()
	vec := make([]float32, len(vector))
	copy(vec, vector)
	m.SearchCalls = append(m.SearchCalls, SearchCall{AgentID: agentID, Vector: vec, K: k})
	fn := m.SearchFunc
	results := m.SearchResults
	err := m.SearchErr
	m.mu.Unlock()

	if fn != nil {
		return fn(agentID, vector, k)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteAgent records the agent ID.
func (m *VectorStore) DeleteAgent(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeletedAgents = append(m.DeletedAgents, agentID)
	return nil
}

// FinishCall records a single invocation of Finish.
type FinishCall struct {
	CallID     string
	Status     types.CallStatus
	Transcript string
	EndedAt    time.Time
}

// ConversationStore is a mock implementation of store.ConversationStore.
type ConversationStore struct {
	mu sync.Mutex

	// BeginErr, AppendErr, and FinishErr are returned as the error from the
	// corresponding method when non-nil.
	BeginErr  error
	AppendErr error
	FinishErr error

	// Begun records every conversation passed to Begin in order.
	Begun []store.Conversation

	// TurnsByCall accumulates AppendTurn arguments keyed by call ID.
	TurnsByCall map[string][]types.Turn

	// Finishes records every call to Finish in order.
	Finishes []FinishCall
}

// Begin records the conversation and returns BeginErr.
func (m *ConversationStore) Begin(_ context.Context, conv store.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BeginErr != nil {
		return m.BeginErr
	}
	m.Begun = append(m.Begun, conv)
	return nil
}

// AppendTurn records the turn and returns AppendErr.
func (m *ConversationStore) AppendTurn(_ context.Context, callID string, turn types.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	if m.TurnsByCall == nil {
		m.TurnsByCall = make(map[string][]types.Turn)
	}
	m.TurnsByCall[callID] = append(m.TurnsByCall[callID], turn)
	return nil
}

// Finish records the call and returns FinishErr.
func (m *ConversationStore) Finish(_ context.Context, callID string, status types.CallStatus, transcript string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FinishErr != nil {
		return m.FinishErr
	}
	m.Finishes = append(m.Finishes, FinishCall{
		CallID:     callID,
		Status:     status,
		Transcript: transcript,
		EndedAt:    endedAt,
	})
	return nil
}

// Turns returns a copy of the recorded turns for callID.
func (m *ConversationStore) Turns(callID string) []types.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.TurnsByCall[callID]
	out := make([]types.Turn, len(turns))
	copy(out, turns)
	return out
}

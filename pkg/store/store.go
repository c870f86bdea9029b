// Package store defines the persistence interfaces of the runtime: a
// pgvector-backed knowledge store queried by the retrieval layer, and a
// conversation store holding one record per call plus its turn history.
//
// The reference implementation lives in the postgres/ subpackage; mock/
// provides in-memory doubles for tests. Both stores share one connection
// pool there, but the interfaces are independent so callers can wire them
// to different backends.
package store

import (
	"context"
	"time"

	"github.com/callyx/callyx/pkg/types"
)

// Chunk is one knowledge-base fragment: a span of document text together
// with its embedding vector. Chunks are written by the knowledge-base
// loader and read back by similarity search during retrieval.
type Chunk struct {
	// ID uniquely identifies the chunk. The loader derives it from the
	// source document and chunk ordinal so re-loading a document replaces
	// its chunks in place.
	ID string

	// AgentID scopes the chunk to a single agent's knowledge base.
	AgentID string

	// Content is the chunk text handed to the prompt when retrieved.
	Content string

	// Embedding is the dense vector for Content. Its length must match the
	// dimension the store was migrated with.
	Embedding []float32

	// Source names the document the chunk came from (file path or URL).
	Source string

	// Ordinal is the chunk's position within its source document.
	Ordinal int
}

// ScoredChunk pairs a retrieved chunk with its cosine distance from the
// query vector. Lower distance means more similar.
type ScoredChunk struct {
	Chunk
	Distance float64
}

// VectorStore is the knowledge-base persistence layer. Implementations must
// be safe for concurrent use.
type VectorStore interface {
	// Upsert inserts or replaces the given chunks. Chunks with an existing
	// ID are overwritten completely.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Search returns the k chunks belonging to agentID whose embeddings are
	// closest (cosine distance) to vector, ordered by ascending distance.
	// Embeddings are not returned on the result chunks.
	Search(ctx context.Context, agentID string, vector []float32, k int) ([]ScoredChunk, error)

	// DeleteAgent removes every chunk belonging to agentID. Deleting an
	// agent with no chunks is not an error.
	DeleteAgent(ctx context.Context, agentID string) error
}

// Conversation is the persisted record of one call.
type Conversation struct {
	// CallID is the carrier-assigned call identifier and primary key.
	CallID string

	// AgentID identifies the agent configuration that served the call.
	AgentID string

	// PhoneNumber is the caller's number as reported in the start event.
	// Empty when the carrier does not forward it.
	PhoneNumber string

	// Status is the call's lifecycle status. Live calls carry
	// [types.StatusInProgress]; Finish replaces it with a terminal status.
	Status types.CallStatus

	// Transcript is the canonical "User: …\nAssistant: …" rendering of the
	// turn history, written once at call end.
	Transcript string

	// StartedAt is when the media stream's start event arrived.
	StartedAt time.Time

	// EndedAt is when the call reached a terminal status. Zero while the
	// call is live.
	EndedAt time.Time
}

// ConversationStore persists call records and their turn history.
// Implementations must be safe for concurrent use.
type ConversationStore interface {
	// Begin creates the call record at stream start. The record's status
	// should be [types.StatusInProgress] and EndedAt zero.
	Begin(ctx context.Context, conv Conversation) error

	// AppendTurn adds one completed user/assistant exchange to the call's
	// turn history. Turns are stored in append order.
	AppendTurn(ctx context.Context, callID string, turn types.Turn) error

	// Finish marks the call terminal: it sets the final status, the
	// rendered transcript, and the end time. Finishing an unknown call
	// returns an error.
	Finish(ctx context.Context, callID string, status types.CallStatus, transcript string, endedAt time.Time) error
}

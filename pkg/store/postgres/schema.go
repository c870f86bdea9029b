// Package postgres provides the PostgreSQL implementation of the store
// interfaces: conversations plus their turns in plain tables, and knowledge
// chunks in a pgvector table with an HNSW index for approximate
// nearest-neighbour search.
//
// Both stores share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.Conversations().Begin(ctx, conv)
//	results, _ := st.Vectors().Search(ctx, agentID, queryVec, 6)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Conversations DDL — one row per call + append-only turn log
// ─────────────────────────────────────────────────────────────────────────────

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    call_id      TEXT         PRIMARY KEY,
    agent_id     TEXT         NOT NULL,
    phone_number TEXT         NOT NULL DEFAULT '',
    status       TEXT         NOT NULL DEFAULT 'in-progress',
    transcript   TEXT         NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_conversations_agent_id
    ON conversations (agent_id);

CREATE INDEX IF NOT EXISTS idx_conversations_started_at
    ON conversations (started_at);

CREATE TABLE IF NOT EXISTS conversation_turns (
    id             TEXT         PRIMARY KEY,
    call_id        TEXT         NOT NULL REFERENCES conversations (call_id) ON DELETE CASCADE,
    user_text      TEXT         NOT NULL DEFAULT '',
    assistant_text TEXT         NOT NULL DEFAULT '',
    tool_name      TEXT         NOT NULL DEFAULT '',
    at             TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_call_at
    ON conversation_turns (call_id, at);
`

// ddlKnowledgeChunks returns the knowledge-base DDL with the embedding
// dimension substituted. The vector dimension is baked into the column type
// at schema creation time.
func ddlKnowledgeChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS knowledge_chunks (
    id          TEXT         PRIMARY KEY,
    agent_id    TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    source      TEXT         NOT NULL DEFAULT '',
    ordinal     INT          NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_agent_id
    ON knowledge_chunks (agent_id);

CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_embedding
    ON knowledge_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indexes, and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured for the
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires
// a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlConversations,
		ddlKnowledgeChunks(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

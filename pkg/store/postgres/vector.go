package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/callyx/callyx/pkg/store"
)

var _ store.VectorStore = (*VectorStoreImpl)(nil)

// VectorStoreImpl is the knowledge-base layer backed by a PostgreSQL
// knowledge_chunks table with a pgvector HNSW index for fast approximate
// nearest-neighbour search.
//
// Obtain one via [Store.Vectors] rather than constructing directly.
// All methods are safe for concurrent use.
type VectorStoreImpl struct {
	pool *pgxpool.Pool
}

// Upsert implements [store.VectorStore]. Each chunk is inserted or, when a
// chunk with the same ID exists, completely replaced. All chunks are written
// in a single transaction so a partially re-loaded document never becomes
// visible.
func (s *VectorStoreImpl) Upsert(ctx context.Context, chunks []store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO knowledge_chunks
		    (id, agent_id, content, embedding, source, ordinal)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    agent_id  = EXCLUDED.agent_id,
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    source    = EXCLUDED.source,
		    ordinal   = EXCLUDED.ordinal`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vector store: begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		vec := pgvector.NewVector(c.Embedding)
		if _, err := tx.Exec(ctx, q, c.ID, c.AgentID, c.Content, vec, c.Source, c.Ordinal); err != nil {
			return fmt.Errorf("vector store: upsert chunk %q: %w", c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("vector store: commit upsert: %w", err)
	}
	return nil
}

// Search implements [store.VectorStore]. It finds the k chunks belonging to
// agentID whose embeddings are closest (cosine distance) to vector.
//
// Results are ordered by ascending cosine distance (most similar first).
// Embeddings are not scanned back; the retrieval layer only needs content
// and distance.
func (s *VectorStoreImpl) Search(ctx context.Context, agentID string, vector []float32, k int) ([]store.ScoredChunk, error) {
	const q = `
		SELECT id, agent_id, content, source, ordinal,
		       embedding <=> $1 AS distance
		FROM   knowledge_chunks
		WHERE  agent_id = $2
		ORDER  BY distance
		LIMIT  $3`

	queryVec := pgvector.NewVector(vector)
	rows, err := s.pool.Query(ctx, q, queryVec, agentID, k)
	if err != nil {
		return nil, fmt.Errorf("vector store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ScoredChunk, error) {
		var sc store.ScoredChunk
		if err := row.Scan(
			&sc.ID,
			&sc.AgentID,
			&sc.Content,
			&sc.Source,
			&sc.Ordinal,
			&sc.Distance,
		); err != nil {
			return store.ScoredChunk{}, err
		}
		return sc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector store: scan rows: %w", err)
	}
	if results == nil {
		results = []store.ScoredChunk{}
	}
	return results, nil
}

// DeleteAgent implements [store.VectorStore]. It removes every chunk
// belonging to agentID. Deleting an agent with no chunks is not an error.
func (s *VectorStoreImpl) DeleteAgent(ctx context.Context, agentID string) error {
	const q = `DELETE FROM knowledge_chunks WHERE agent_id = $1`
	if _, err := s.pool.Exec(ctx, q, agentID); err != nil {
		return fmt.Errorf("vector store: delete agent %q: %w", agentID, err)
	}
	return nil
}

// Count returns the number of knowledge chunks stored for agentID. The
// knowledge-base loader reports it after a load.
func (s *VectorStoreImpl) Count(ctx context.Context, agentID string) (int64, error) {
	const q = `SELECT count(*) FROM knowledge_chunks WHERE agent_id = $1`
	var n int64
	if err := s.pool.QueryRow(ctx, q, agentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("vector store: count agent %q: %w", agentID, err)
	}
	return n, nil
}

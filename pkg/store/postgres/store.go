package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store bundles the two PostgreSQL-backed persistence layers behind one
// connection pool: call records (conversations plus their turns) and the
// pgvector knowledge base. Construct it with NewStore; the zero value is not
// usable. All methods are safe for concurrent use.
type Store struct {
	pool          *pgxpool.Pool
	vectors       *VectorStoreImpl
	conversations *ConversationStoreImpl
}

// NewStore connects to the database at dsn, verifies the connection, and
// prepares the schema before returning the ready store.
//
// embeddingDims is baked into the knowledge_chunks vector column on first
// migration and must equal the configured embedding model's output width
// (1536 for text-embedding-3-small, 768 for nomic-embed-text). Switching
// models later means altering the column by hand.
func NewStore(ctx context.Context, dsn string, embeddingDims int) (*Store, error) {
	pool, err := newPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Store{
		pool:          pool,
		vectors:       &VectorStoreImpl{pool: pool},
		conversations: &ConversationStoreImpl{pool: pool},
	}, nil
}

// newPool builds the pgx pool with pgvector's types registered on every
// connection, so vector columns scan into pgvector.Vector directly.
func newPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	return pool, nil
}

// Vectors returns the knowledge-base layer.
func (s *Store) Vectors() *VectorStoreImpl { return s.vectors }

// Conversations returns the call-record layer.
func (s *Store) Conversations() *ConversationStoreImpl { return s.conversations }

// Ping reports whether the database answers. The readiness probe calls it.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Pool exposes the shared connection pool so sibling stores (the agent
// store) can ride the same connections.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close tears down the pool. Call it once the store is out of service.
func (s *Store) Close() { s.pool.Close() }

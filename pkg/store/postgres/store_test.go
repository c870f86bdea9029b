package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/callyx/callyx/pkg/store"
	"github.com/callyx/callyx/pkg/store/postgres"
	"github.com/callyx/callyx/pkg/types"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if CALLYX_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CALLYX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CALLYX_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	st, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

// mustPool opens a pgxpool with pgvector types registered (needed so
// dropSchema can run against a database that already has vector columns).
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS conversation_turns CASCADE",
		"DROP TABLE IF EXISTS conversations CASCADE",
		"DROP TABLE IF EXISTS knowledge_chunks CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// VectorStore
// ─────────────────────────────────────────────────────────────────────────────

func TestVectorStore_UpsertAndSearch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	vs := st.Vectors()

	chunks := []store.Chunk{
		{
			ID: "doc1-0", AgentID: "agent-a", Ordinal: 0, Source: "faq.md",
			Content:   "Our support line is open 9am to 5pm on weekdays.",
			Embedding: []float32{1, 0, 0, 0},
		},
		{
			ID: "doc1-1", AgentID: "agent-a", Ordinal: 1, Source: "faq.md",
			Content:   "Refunds are processed within five business days.",
			Embedding: []float32{0, 1, 0, 0},
		},
		{
			ID: "doc2-0", AgentID: "agent-b", Ordinal: 0, Source: "pricing.md",
			Content:   "The premium plan costs 49 dollars per month.",
			Embedding: []float32{0, 0, 1, 0},
		},
	}
	if err := vs.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Nearest to [1,0,0,0] within agent-a is doc1-0.
	results, err := vs.Search(ctx, "agent-a", []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search: want 2 results (agent scope), got %d", len(results))
	}
	if results[0].ID != "doc1-0" {
		t.Errorf("closest chunk: want doc1-0, got %s (distance %.4f)", results[0].ID, results[0].Distance)
	}
	if results[0].Distance >= results[1].Distance {
		t.Errorf("results not ordered by ascending distance: %.4f then %.4f",
			results[0].Distance, results[1].Distance)
	}

	// Other agent's chunks never leak into the result.
	for _, r := range results {
		if r.AgentID != "agent-a" {
			t.Errorf("agent scope violated: got chunk for %q", r.AgentID)
		}
	}

	// Upsert with the same ID replaces the chunk.
	updated := chunks[0]
	updated.Content = "Support hours changed to 24/7."
	updated.Embedding = []float32{0, 0, 0, 1}
	if err := vs.Upsert(ctx, []store.Chunk{updated}); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}
	after, err := vs.Search(ctx, "agent-a", []float32{0, 0, 0, 1}, 1)
	if err != nil {
		t.Fatalf("Search after replace: %v", err)
	}
	if len(after) == 0 || after[0].Content != updated.Content {
		t.Errorf("replace: want updated content, got %+v", after)
	}

	// Count per agent.
	n, err := vs.Count(ctx, "agent-a")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count agent-a: want 2, got %d", n)
	}
}

func TestVectorStore_DeleteAgent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	vs := st.Vectors()

	if err := vs.Upsert(ctx, []store.Chunk{
		{ID: "a-0", AgentID: "agent-a", Content: "alpha", Embedding: []float32{1, 0, 0, 0}},
		{ID: "b-0", AgentID: "agent-b", Content: "beta", Embedding: []float32{0, 1, 0, 0}},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := vs.DeleteAgent(ctx, "agent-a"); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}

	gone, err := vs.Search(ctx, "agent-a", []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search after delete: %v", err)
	}
	if len(gone) != 0 {
		t.Errorf("agent-a chunks still present after DeleteAgent: %d", len(gone))
	}

	kept, err := vs.Search(ctx, "agent-b", []float32{0, 1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search agent-b: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("agent-b chunks affected by DeleteAgent: want 1, got %d", len(kept))
	}

	// Deleting an agent with no chunks is not an error.
	if err := vs.DeleteAgent(ctx, "agent-a"); err != nil {
		t.Errorf("DeleteAgent empty: unexpected error: %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// ConversationStore
// ─────────────────────────────────────────────────────────────────────────────

func TestConversationStore_Lifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cs := st.Conversations()

	started := time.Now().Add(-2 * time.Minute).Truncate(time.Millisecond)
	conv := store.Conversation{
		CallID:      "CA-test-1",
		AgentID:     "agent-a",
		PhoneNumber: "+15550001111",
		StartedAt:   started,
	}
	if err := cs.Begin(ctx, conv); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Live record has in-progress status and no end time.
	live, err := cs.Get(ctx, conv.CallID)
	if err != nil {
		t.Fatalf("Get live: %v", err)
	}
	if live.Status != types.StatusInProgress {
		t.Errorf("live status: want %q, got %q", types.StatusInProgress, live.Status)
	}
	if !live.EndedAt.IsZero() {
		t.Errorf("live EndedAt: want zero, got %v", live.EndedAt)
	}

	turns := []types.Turn{
		{User: "What are your hours?", Assistant: "We are open nine to five.", At: started.Add(10 * time.Second)},
		{User: "Transfer me to sales.", Assistant: "Transferring you now.", ToolName: "transfer_call", At: started.Add(30 * time.Second)},
	}
	for _, turn := range turns {
		if err := cs.AppendTurn(ctx, conv.CallID, turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	got, err := cs.Turns(ctx, conv.CallID)
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Turns: want 2, got %d", len(got))
	}
	if got[0].User != turns[0].User || got[1].ToolName != "transfer_call" {
		t.Errorf("Turns order or content wrong: %+v", got)
	}

	transcript := types.FormatTranscript(turns)
	ended := started.Add(time.Minute)
	if err := cs.Finish(ctx, conv.CallID, types.StatusCompleted, transcript, ended); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	final, err := cs.Get(ctx, conv.CallID)
	if err != nil {
		t.Fatalf("Get final: %v", err)
	}
	if final.Status != types.StatusCompleted {
		t.Errorf("final status: want %q, got %q", types.StatusCompleted, final.Status)
	}
	if final.Transcript != transcript {
		t.Errorf("transcript: want %q, got %q", transcript, final.Transcript)
	}
	if final.EndedAt.IsZero() {
		t.Error("final EndedAt: want non-zero")
	}
}

func TestConversationStore_FinishUnknownCall(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cs := st.Conversations()

	err := cs.Finish(ctx, "CA-never-started", types.StatusFailed, "", time.Now())
	if !errors.Is(err, postgres.ErrConversationNotFound) {
		t.Errorf("Finish unknown: want ErrConversationNotFound, got %v", err)
	}

	_, err = cs.Get(ctx, "CA-never-started")
	if !errors.Is(err, postgres.ErrConversationNotFound) {
		t.Errorf("Get unknown: want ErrConversationNotFound, got %v", err)
	}
}

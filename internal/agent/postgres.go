package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the agents table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS agents (
    id                    TEXT PRIMARY KEY,
    name                  TEXT NOT NULL DEFAULT '',
    system_prompt         TEXT NOT NULL DEFAULT '',
    first_message         TEXT NOT NULL DEFAULT '',
    farewell_message      TEXT NOT NULL DEFAULT '',
    voice_id              TEXT NOT NULL DEFAULT '',
    model_name            TEXT NOT NULL DEFAULT '',
    webhook_url           TEXT NOT NULL DEFAULT '',
    interrupt_enabled     BOOLEAN,
    silence_threshold_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL agents table, for
// deployments that manage agents outside the YAML configuration.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over the given connection or pool. Call
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the agents table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("agent: migrate: %w", err)
	}
	return nil
}

const agentColumns = `id, name, system_prompt, first_message, farewell_message,
       voice_id, model_name, webhook_url, interrupt_enabled, silence_threshold_sec`

// Get retrieves the configuration for id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Config, error) {
	const query = `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	var c Config
	err := s.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.SystemPrompt, &c.FirstMessage, &c.FarewellMessage,
		&c.VoiceID, &c.ModelName, &c.WebhookURL, &c.InterruptEnabled, &c.SilenceThresholdSec,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, fmt.Errorf("agent %q: %w", id, ErrNotFound)
		}
		return Config{}, fmt.Errorf("agent: get %q: %w", id, err)
	}
	return c, nil
}

// List returns all agent configurations ordered by ID.
func (s *PostgresStore) List(ctx context.Context) ([]Config, error) {
	const query = `SELECT ` + agentColumns + ` FROM agents ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agent: list: %w", err)
	}
	defer rows.Close()

	var configs []Config
	for rows.Next() {
		var c Config
		if err := rows.Scan(
			&c.ID, &c.Name, &c.SystemPrompt, &c.FirstMessage, &c.FarewellMessage,
			&c.VoiceID, &c.ModelName, &c.WebhookURL, &c.InterruptEnabled, &c.SilenceThresholdSec,
		); err != nil {
			return nil, fmt.Errorf("agent: list scan: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent: list: %w", err)
	}
	return configs, nil
}

// Upsert creates or replaces an agent configuration, for importing the YAML
// agent set into the database. The config is validated before persistence.
func (s *PostgresStore) Upsert(ctx context.Context, c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO agents (
			id, name, system_prompt, first_message, farewell_message,
			voice_id, model_name, webhook_url, interrupt_enabled, silence_threshold_sec
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			system_prompt = EXCLUDED.system_prompt,
			first_message = EXCLUDED.first_message,
			farewell_message = EXCLUDED.farewell_message,
			voice_id = EXCLUDED.voice_id,
			model_name = EXCLUDED.model_name,
			webhook_url = EXCLUDED.webhook_url,
			interrupt_enabled = EXCLUDED.interrupt_enabled,
			silence_threshold_sec = EXCLUDED.silence_threshold_sec,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query,
		c.ID, c.Name, c.SystemPrompt, c.FirstMessage, c.FarewellMessage,
		c.VoiceID, c.ModelName, c.WebhookURL, c.InterruptEnabled, c.SilenceThresholdSec,
	); err != nil {
		return fmt.Errorf("agent: upsert %q: %w", c.ID, err)
	}
	return nil
}

// Delete removes an agent by ID. Deleting an unknown agent is not an error.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("agent: delete %q: %w", id, err)
	}
	return nil
}

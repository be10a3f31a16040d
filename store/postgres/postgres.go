// Package postgres provides pgx-backed implementations of the execution,
// connection and checkpoint stores.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/draftgate/draftgate/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Options configuration for the Postgres stores
type Options struct {
	ConnString string
	// CipherKey encrypts connection credentials at rest; 16, 24 or 32 bytes.
	CipherKey []byte
}

// Stores bundles the three Postgres-backed stores over one pool
type Stores struct {
	Executions  *PostgresExecutionStore
	Connections *PostgresConnectionStore
	Checkpoints *PostgresCheckpointStore

	pool DBPool
}

// NewStores connects a pool and returns the three stores
func NewStores(ctx context.Context, opts Options) (*Stores, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewStoresWithPool(pool, opts.CipherKey)
}

// NewStoresWithPool builds the stores over an existing pool.
// Useful for testing with mocks.
func NewStoresWithPool(pool DBPool, cipherKey []byte) (*Stores, error) {
	cipher, err := store.NewCipher(cipherKey)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Executions:  &PostgresExecutionStore{pool: pool},
		Connections: &PostgresConnectionStore{pool: pool, cipher: cipher},
		Checkpoints: &PostgresCheckpointStore{pool: pool},
		pool:        pool,
	}, nil
}

// InitSchema creates the necessary tables if they don't exist
func (s *Stores) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			input TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			snapshot JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_live_key
			ON executions (idempotency_key)
			WHERE status IN ('running', 'awaiting_human', 'awaiting_auth');
		CREATE INDEX IF NOT EXISTS idx_executions_user_status ON executions (user_id, status);

		CREATE TABLE IF NOT EXISTS connections (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			account_id TEXT NOT NULL DEFAULT '',
			credential BYTEA NOT NULL,
			expires_at TIMESTAMPTZ,
			is_default BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_default
			ON connections (user_id, platform)
			WHERE is_default;

		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			node_name TEXT NOT NULL,
			state JSONB NOT NULL,
			metadata JSONB,
			timestamp TIMESTAMPTZ NOT NULL,
			version INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_execution_id ON checkpoints (execution_id);
	`

	_, err := s.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *Stores) Close() {
	s.pool.Close()
}

// PostgresExecutionStore implements store.ExecutionStore using PostgreSQL
type PostgresExecutionStore struct {
	pool DBPool
}

var _ store.ExecutionStore = (*PostgresExecutionStore)(nil)

// Create inserts a new execution record
func (s *PostgresExecutionStore) Create(ctx context.Context, execution *store.Execution) error {
	query := `
		INSERT INTO executions (id, user_id, input, idempotency_key, status, reason, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		execution.ID,
		execution.UserID,
		execution.Input,
		execution.IdempotencyKey,
		string(execution.Status),
		execution.Reason,
		[]byte(execution.Snapshot),
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

const executionColumns = `id, user_id, input, idempotency_key, status, reason, snapshot, created_at, updated_at`

func scanExecution(row pgx.Row) (*store.Execution, error) {
	var execution store.Execution
	var status string
	var snapshot []byte

	err := row.Scan(
		&execution.ID,
		&execution.UserID,
		&execution.Input,
		&execution.IdempotencyKey,
		&status,
		&execution.Reason,
		&snapshot,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	execution.Status = store.ExecutionStatus(status)
	execution.Snapshot = json.RawMessage(snapshot)
	return &execution, nil
}

// Get retrieves an execution by id
func (s *PostgresExecutionStore) Get(ctx context.Context, id string) (*store.Execution, error) {
	query := fmt.Sprintf(`SELECT %s FROM executions WHERE id = $1`, executionColumns)
	return scanExecution(s.pool.QueryRow(ctx, query, id))
}

// FindLiveByKey returns the live execution holding the idempotency key
func (s *PostgresExecutionStore) FindLiveByKey(ctx context.Context, key string) (*store.Execution, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM executions
		WHERE idempotency_key = $1
		  AND status IN ('running', 'awaiting_human', 'awaiting_auth')
		LIMIT 1
	`, executionColumns)
	return scanExecution(s.pool.QueryRow(ctx, query, key))
}

// UpdateResult writes status, reason and snapshot in a single statement,
// so the pairing can never be observed half-applied.
func (s *PostgresExecutionStore) UpdateResult(ctx context.Context, id string, status store.ExecutionStatus, reason string, snapshot json.RawMessage) error {
	query := `
		UPDATE executions
		SET status = $2, reason = $3, snapshot = $4, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, string(status), reason, []byte(snapshot))
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrExecutionNotFound
	}
	return nil
}

func (s *PostgresExecutionStore) list(ctx context.Context, query string, args ...any) ([]*store.Execution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*store.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return executions, nil
}

// ListPending returns a user's suspended executions
func (s *PostgresExecutionStore) ListPending(ctx context.Context, userID string) ([]*store.Execution, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM executions
		WHERE user_id = $1 AND status IN ('awaiting_human', 'awaiting_auth')
		ORDER BY created_at ASC
	`, executionColumns)
	return s.list(ctx, query, userID)
}

// ListByStatus returns all executions with the given status
func (s *PostgresExecutionStore) ListByStatus(ctx context.Context, status store.ExecutionStatus) ([]*store.Execution, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM executions
		WHERE status = $1
		ORDER BY created_at ASC
	`, executionColumns)
	return s.list(ctx, query, string(status))
}

// PostgresConnectionStore implements store.ConnectionStore using PostgreSQL.
// Credentials are encrypted at rest with the store cipher.
type PostgresConnectionStore struct {
	pool   DBPool
	cipher *store.Cipher
}

var _ store.ConnectionStore = (*PostgresConnectionStore)(nil)

// Put inserts or updates a connection, demoting a previous default in the
// same transaction
func (s *PostgresConnectionStore) Put(ctx context.Context, connection *store.Connection) error {
	blob, err := s.cipher.EncryptCredential(connection.Credential)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if connection.IsDefault {
		demote := `
			UPDATE connections SET is_default = FALSE
			WHERE user_id = $1 AND platform = $2 AND id <> $3
		`
		if _, err := tx.Exec(ctx, demote, connection.UserID, connection.Platform, connection.ID); err != nil {
			return fmt.Errorf("failed to demote default connection: %w", err)
		}
	}

	if connection.ID == 0 {
		insert := `
			INSERT INTO connections (user_id, platform, account_id, credential, expires_at, is_default)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`
		err = tx.QueryRow(ctx, insert,
			connection.UserID,
			connection.Platform,
			connection.AccountID,
			blob,
			connection.ExpiresAt,
			connection.IsDefault,
		).Scan(&connection.ID)
	} else {
		update := `
			INSERT INTO connections (id, user_id, platform, account_id, credential, expires_at, is_default)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				platform = EXCLUDED.platform,
				account_id = EXCLUDED.account_id,
				credential = EXCLUDED.credential,
				expires_at = EXCLUDED.expires_at,
				is_default = EXCLUDED.is_default
		`
		_, err = tx.Exec(ctx, update,
			connection.ID,
			connection.UserID,
			connection.Platform,
			connection.AccountID,
			blob,
			connection.ExpiresAt,
			connection.IsDefault,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit connection: %w", err)
	}
	return nil
}

const connectionColumns = `id, user_id, platform, account_id, credential, expires_at, is_default`

func (s *PostgresConnectionStore) scanConnection(row pgx.Row) (*store.Connection, error) {
	var connection store.Connection
	var blob []byte

	err := row.Scan(
		&connection.ID,
		&connection.UserID,
		&connection.Platform,
		&connection.AccountID,
		&blob,
		&connection.ExpiresAt,
		&connection.IsDefault,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	connection.Credential, err = s.cipher.DecryptCredential(blob)
	if err != nil {
		return nil, err
	}
	return &connection, nil
}

// Get retrieves a connection by id
func (s *PostgresConnectionStore) Get(ctx context.Context, id int64) (*store.Connection, error) {
	query := fmt.Sprintf(`SELECT %s FROM connections WHERE id = $1`, connectionColumns)
	return s.scanConnection(s.pool.QueryRow(ctx, query, id))
}

// GetDefault returns the default connection for (userID, platform)
func (s *PostgresConnectionStore) GetDefault(ctx context.Context, userID, platform string) (*store.Connection, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM connections
		WHERE user_id = $1 AND platform = $2 AND is_default
	`, connectionColumns)
	return s.scanConnection(s.pool.QueryRow(ctx, query, userID, platform))
}

// SaveCredential persists a refreshed credential and its expiry
func (s *PostgresConnectionStore) SaveCredential(ctx context.Context, id int64, credential store.Credential, expiresAt time.Time) error {
	blob, err := s.cipher.EncryptCredential(credential)
	if err != nil {
		return err
	}

	query := `UPDATE connections SET credential = $2, expires_at = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, blob, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConnectionNotFound
	}
	return nil
}

// PostgresCheckpointStore implements store.CheckpointStore using PostgreSQL
type PostgresCheckpointStore struct {
	pool DBPool
}

var _ store.CheckpointStore = (*PostgresCheckpointStore)(nil)

// Save stores a checkpoint
func (s *PostgresCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	stateJSON, err := json.Marshal(checkpoint.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	metadataJSON, err := json.Marshal(checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO checkpoints (id, execution_id, node_name, state, metadata, timestamp, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			execution_id = EXCLUDED.execution_id,
			node_name = EXCLUDED.node_name,
			state = EXCLUDED.state,
			metadata = EXCLUDED.metadata,
			timestamp = EXCLUDED.timestamp,
			version = EXCLUDED.version
	`

	_, err = s.pool.Exec(ctx, query,
		checkpoint.ID,
		checkpoint.ExecutionID,
		checkpoint.NodeName,
		stateJSON,
		metadataJSON,
		checkpoint.Timestamp,
		checkpoint.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by ID
func (s *PostgresCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	query := `
		SELECT id, execution_id, node_name, state, metadata, timestamp, version
		FROM checkpoints
		WHERE id = $1
	`

	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, checkpointID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint not found: %s", checkpointID)
		}
		return nil, err
	}
	return cp, nil
}

func scanCheckpoint(row pgx.Row) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var stateJSON []byte
	var metadataJSON []byte

	err := row.Scan(
		&cp.ID,
		&cp.ExecutionID,
		&cp.NodeName,
		&stateJSON,
		&metadataJSON,
		&cp.Timestamp,
		&cp.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

// List returns all checkpoints for a given execution
func (s *PostgresCheckpointStore) List(ctx context.Context, executionID string) ([]*store.Checkpoint, error) {
	query := `
		SELECT id, execution_id, node_name, state, metadata, timestamp, version
		FROM checkpoints
		WHERE execution_id = $1
		ORDER BY version ASC
	`

	rows, err := s.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*store.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return checkpoints, nil
}

// Delete removes a checkpoint
func (s *PostgresCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM checkpoints WHERE id = $1", checkpointID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for an execution
func (s *PostgresCheckpointStore) Clear(ctx context.Context, executionID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM checkpoints WHERE execution_id = $1", executionID)
	if err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

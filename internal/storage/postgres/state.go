package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/omok/internal/storage"
)

// StateRepository implements storage.Store on the instance_state table.
type StateRepository struct {
	db *pgxpool.Pool
}

// NewStateRepository creates a StateRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with migrations applied.
func NewStateRepository(db *pgxpool.Pool) *StateRepository {
	return &StateRepository{db: db}
}

// Load returns the JSON document stored under key, or storage.ErrNotFound.
func (r *StateRepository) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRow(ctx,
		`SELECT value FROM instance_state WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying state %q: %w", key, err)
	}
	return value, nil
}

// Save upserts the JSON document under key.
//
// Precondition: value must be valid JSON.
func (r *StateRepository) Save(ctx context.Context, key string, value []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO instance_state (key, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upserting state %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *StateRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM instance_state WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting state %q: %w", key, err)
	}
	return nil
}

// Close is a no-op; the owning Pool is closed separately.
func (r *StateRepository) Close() error {
	return nil
}

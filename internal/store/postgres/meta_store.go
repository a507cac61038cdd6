package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// MetaStore implements domain.MetaStore using PostgreSQL.
type MetaStore struct {
	pool *pgxpool.Pool
}

// NewMetaStore creates a new MetaStore backed by the given connection pool.
func NewMetaStore(pool *pgxpool.Pool) *MetaStore {
	return &MetaStore{pool: pool}
}

// GetFlag returns the value of a named flag. A flag that has never been set
// reads as false.
func (s *MetaStore) GetFlag(ctx context.Context, name string) (bool, error) {
	var value bool
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM bot_meta WHERE name = $1`, name).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("postgres: get flag %s: %w", name, err)
	}
	return value, nil
}

// SetFlag upserts a named flag.
func (s *MetaStore) SetFlag(ctx context.Context, name string, value bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bot_meta (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value = $2, updated_at = NOW()`,
		name, value)
	if err != nil {
		return fmt.Errorf("postgres: set flag %s: %w", name, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MetaStore = (*MetaStore)(nil)

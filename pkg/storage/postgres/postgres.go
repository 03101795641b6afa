// Package postgres provides a PostgreSQL implementation of storage.KeyStore.
// It uses pgx/v5 for connection pooling and JSONB for user info.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/gatehouse/pkg/debug"
	"github.com/rhuss/gatehouse/pkg/storage"
)

// Store is a PostgreSQL-backed KeyStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.KeyStore at compile time.
var _ storage.KeyStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

const keyColumns = "id, prefix, key_hash, site_id, admin, user_info, created_at, revoked_at"

// SaveKey inserts a new key.
func (s *Store) SaveKey(ctx context.Context, k *storage.Key) error {
	var infoJSON []byte
	if k.UserInfo != nil {
		var err error
		infoJSON, err = json.Marshal(k.UserInfo)
		if err != nil {
			return fmt.Errorf("marshaling user info: %w", err)
		}
	}

	createdAt := k.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, prefix, key_hash, site_id, admin, user_info, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, k.ID, k.Prefix, k.Hash, k.SiteID, k.Admin, nullJSON(infoJSON), createdAt)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting key: %w", err)
	}
	return nil
}

// GetKeyByHash retrieves an active key and records its use.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*storage.Key, error) {
	query := "SELECT " + keyColumns + " FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL"
	args := []any{hash}

	if site := storage.SiteFromContext(ctx); site != "" {
		query += " AND site_id = $2"
		args = append(args, site)
	}

	k, err := scanKey(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying key: %w", err)
	}

	if _, err := s.pool.Exec(ctx, "UPDATE api_keys SET last_used_at = now() WHERE id = $1", k.ID); err != nil {
		debug.Log(debug.Storage, "recording key use failed", "id", k.ID, "error", err)
	}
	return k, nil
}

// RevokeKey sets revoked_at on an active key.
func (s *Store) RevokeKey(ctx context.Context, id string) error {
	query := "UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL"
	args := []any{time.Now(), id}

	if site := storage.SiteFromContext(ctx); site != "" {
		query += " AND site_id = $3"
		args = append(args, site)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("revoking key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListKeys returns matching keys, oldest first.
func (s *Store) ListKeys(ctx context.Context, opts storage.ListOptions) ([]*storage.Key, error) {
	var (
		where []string
		args  []any
	)
	if site := storage.EffectiveSite(ctx, opts); site != "" {
		args = append(args, site)
		where = append(where, fmt.Sprintf("site_id = $%d", len(args)))
	}
	if !opts.IncludeRevoked {
		where = append(where, "revoked_at IS NULL")
	}

	query := "SELECT " + keyColumns + " FROM api_keys"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var out []*storage.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanKey(row pgx.Row) (*storage.Key, error) {
	var k storage.Key
	var infoJSON []byte
	if err := row.Scan(&k.ID, &k.Prefix, &k.Hash, &k.SiteID, &k.Admin, &infoJSON, &k.CreatedAt, &k.RevokedAt); err != nil {
		return nil, err
	}
	if infoJSON != nil {
		if err := json.Unmarshal(infoJSON, &k.UserInfo); err != nil {
			return nil, fmt.Errorf("unmarshaling user info: %w", err)
		}
	}
	return &k, nil
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

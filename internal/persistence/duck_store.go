package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/marcboeker/go-duckdb"
	"github.com/vmihailenco/msgpack/v5"
)

// DuckStore keeps msgpack encoded envelopes in a DuckDB table.
type DuckStore struct {
	db     *sql.DB
	dbPath string
}

// DuckOptions tunes the DuckDB engine. Zero values fall back to the defaults.
type DuckOptions struct {
	Threads     int
	MemoryLimit string
}

const (
	defaultDuckThreads     = 4
	defaultDuckMemoryLimit = "1GB"
)

func (o DuckOptions) pragmas() []string {
	threads := o.Threads
	if threads <= 0 {
		threads = defaultDuckThreads
	}
	limit := strings.TrimSpace(o.MemoryLimit)
	if limit == "" {
		limit = defaultDuckMemoryLimit
	}
	return []string{
		fmt.Sprintf("PRAGMA memory_limit='%s'", strings.ReplaceAll(limit, "'", "''")),
		fmt.Sprintf("PRAGMA threads=%d", threads),
		"PRAGMA enable_progress_bar=false",
	}
}

// NewDuckStore opens or creates the database at dbPath.
func NewDuckStore(dbPath string, opts DuckOptions) (*DuckStore, error) {
	pragmas := opts.pragmas()
	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS flow_states (
			key        VARCHAR PRIMARY KEY,
			payload    BLOB NOT NULL,
			primed     BOOLEAN NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &DuckStore{db: db, dbPath: dbPath}, nil
}

// Load reads the envelope stored under key.
func (s *DuckStore) Load(ctx context.Context, key string) (*Envelope, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM flow_states WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying flow state: %w", err)
	}

	var env Envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, key, err)
	}
	if err := check(key, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Save upserts env under key.
func (s *DuckStore) Save(ctx context.Context, key string, env Envelope) error {
	payload, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding flow state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO flow_states (key, payload, primed, updated_at) VALUES (?, ?, ?, ?)`,
		key, payload, env.Primed, env.SavedAt)
	if err != nil {
		return fmt.Errorf("saving flow state: %w", err)
	}
	return nil
}

// Delete removes the row stored under key.
func (s *DuckStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting flow state: %w", err)
	}
	return nil
}

// CountPrimed returns how many stored flows were completed.
func (s *DuckStore) CountPrimed(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM flow_states WHERE primed`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting flow states: %w", err)
	}
	return n, nil
}

// Close closes the database. The file is kept so flows survive restarts.
func (s *DuckStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

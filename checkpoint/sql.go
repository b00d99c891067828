package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Driver names accepted by OpenSQLStore.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLOptions configure a SQLStore.
type SQLOptions struct {
	// Table holds the checkpoints. Defaults to "checkpoints".
	Table string
	// Migrate creates the table when missing.
	Migrate bool
}

// SQLStore keeps checkpoints in a single table with one row per thread.
// Queries are written with '?' placeholders and rebound for the driver.
type SQLStore struct {
	db    *sqlx.DB
	table string
}

type checkpointRow struct {
	ThreadID  string `db:"thread_id"`
	State     string `db:"state"`
	WrittenAt int64  `db:"written_at"`
}

// OpenSQLStore opens dsn with driver (DriverSQLite or DriverPostgres) and
// migrates the checkpoint table.
func OpenSQLStore(ctx context.Context, driver, dsn string, optFns ...func(o *SQLOptions)) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("checkpoint: unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("checkpoint: ping %s: %w", driver, err)
	}

	store, err := NewSQLStore(ctx, db, append([]func(o *SQLOptions){func(o *SQLOptions) { o.Migrate = true }}, optFns...)...)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}

	return store, nil
}

// NewSQLStore wraps an existing connection.
func NewSQLStore(ctx context.Context, db *sqlx.DB, optFns ...func(o *SQLOptions)) (*SQLStore, error) {
	opts := SQLOptions{Table: "checkpoints"}
	for _, fn := range optFns {
		fn(&opts)
	}

	if !tableNamePattern.MatchString(opts.Table) {
		return nil, fmt.Errorf("checkpoint: invalid table name %q", opts.Table)
	}

	s := &SQLStore{db: db, table: opts.Table}

	if opts.Migrate {
		if err := s.migrate(ctx); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	thread_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	written_at BIGINT NOT NULL
)`, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("checkpoint: migrate %s: %w", s.table, err)
	}
	return nil
}

// Put implements Store with an upsert.
func (s *SQLStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	if cp.WrittenAt.IsZero() {
		cp.WrittenAt = time.Now().UTC()
	}

	data, err := encode(cp)
	if err != nil {
		return err
	}

	query := s.db.Rebind(fmt.Sprintf(`INSERT INTO %s (thread_id, state, written_at) VALUES (?, ?, ?)
ON CONFLICT (thread_id) DO UPDATE SET state = excluded.state, written_at = excluded.written_at`, s.table))

	if _, err := s.db.ExecContext(ctx, query, cp.ThreadID, string(data), cp.WrittenAt.UnixNano()); err != nil {
		return fmt.Errorf("checkpoint: put %s: %w", cp.ThreadID, err)
	}

	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, threadID string) (Checkpoint, error) {
	query := s.db.Rebind(fmt.Sprintf(`SELECT thread_id, state, written_at FROM %s WHERE thread_id = ?`, s.table))

	var row checkpointRow
	if err := s.db.GetContext(ctx, &row, query, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("checkpoint: get %s: %w", threadID, err)
	}

	return decode([]byte(row.State))
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, threadID string) error {
	query := s.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE thread_id = ?`, s.table))
	if _, err := s.db.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("checkpoint: delete %s: %w", threadID, err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *SQLStore) Close() error { return s.db.Close() }

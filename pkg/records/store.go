package records

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
`

// Store persists demo items in SQLite.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
}

// OpenStore opens (and creates if needed) the database at path.
// Use ":memory:" with pool size 1 in tests.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("records: path is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := 4
	if path == ":memory:" {
		// Each in-memory connection is its own database.
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("records: %s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("records: opening %s: %w", path, err)
	}

	logger.Info("records store opened", "path", path)

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("records: close: %w", err)
	}
	return nil
}

// Add inserts an item.
func (s *Store) Add(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("records: item name is required")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("records: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO items (name) VALUES (?)",
		&sqlitex.ExecOptions{Args: []any{name}})
	if err != nil {
		return fmt.Errorf("records: insert: %w", err)
	}
	return nil
}

// List returns all item names in insertion order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("records: take: %w", err)
	}
	defer s.pool.Put(conn)

	names := []string{}
	err = sqlitex.Execute(conn, "SELECT name FROM items ORDER BY id",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				names = append(names, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("records: select: %w", err)
	}
	return names, nil
}

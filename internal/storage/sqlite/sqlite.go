// Package sqlite stores linked paths and networks in SQLite through sqlx.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS linked_paths (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	path TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS networks (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	port INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS network_paths (
	network  TEXT NOT NULL REFERENCES networks(name) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name     TEXT NOT NULL,
	path     TEXT NOT NULL,
	PRIMARY KEY (network, position)
);`

// Store implements storage.Store on SQLite
type Store struct {
	db *sqlx.DB
}

// NewStore opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func NewStore(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on&_busy_timeout=5000"
	} else {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serializes writers anyway, and ":memory:" databases are per
	// connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (s *Store) ReadLinkedPaths(ctx context.Context) ([]domain.LinkedPath, error) {
	paths := []domain.LinkedPath{}
	if err := s.db.SelectContext(ctx, &paths, `SELECT name, path FROM linked_paths ORDER BY seq`); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	return paths, nil
}

func (s *Store) LinkPath(ctx context.Context, lp domain.LinkedPath) error {
	if err := domain.ValidateLinkedPath(lp); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO linked_paths (name, path) VALUES (:name, :path)`, lp)
	if isUniqueViolation(err) {
		return fmt.Errorf("linked path %q: %w", lp.Name, storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	return nil
}

func (s *Store) UnlinkPath(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM linked_paths WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("linked path %q: %w", name, storage.ErrNotFound)
	}
	return nil
}

type networkRow struct {
	Name string `db:"name"`
	Port uint16 `db:"port"`
}

type networkPathRow struct {
	Network string `db:"network"`
	Name    string `db:"name"`
	Path    string `db:"path"`
}

func (s *Store) ReadNetworks(ctx context.Context) ([]domain.Network, error) {
	var rows []networkRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, port FROM networks ORDER BY seq`); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}

	var pathRows []networkPathRow
	if err := s.db.SelectContext(ctx, &pathRows,
		`SELECT network, name, path FROM network_paths ORDER BY network, position`); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}

	byNetwork := make(map[string][]domain.LinkedPath)
	for _, p := range pathRows {
		byNetwork[p.Network] = append(byNetwork[p.Network], domain.LinkedPath{Name: p.Name, Path: p.Path})
	}

	networks := make([]domain.Network, 0, len(rows))
	for _, row := range rows {
		networks = append(networks, domain.Network{
			Name:        row.Name,
			LinkedPaths: byNetwork[row.Name],
			Port:        row.Port,
		})
	}
	return networks, nil
}

func (s *Store) GetNetwork(ctx context.Context, name string) (*domain.Network, error) {
	var row networkRow
	err := s.db.GetContext(ctx, &row, `SELECT name, port FROM networks WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("network %q: %w", name, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}

	var paths []domain.LinkedPath
	if err := s.db.SelectContext(ctx, &paths,
		`SELECT name, path FROM network_paths WHERE network = ? ORDER BY position`, name); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}

	return &domain.Network{Name: row.Name, LinkedPaths: paths, Port: row.Port}, nil
}

func (s *Store) CreateNetwork(ctx context.Context, network domain.Network) error {
	if err := domain.ValidateNetwork(network); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO networks (name, port) VALUES (?, ?)`, network.Name, network.Port)
	if isUniqueViolation(err) {
		return fmt.Errorf("network %q: %w", network.Name, storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}

	for i, lp := range network.LinkedPaths {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO network_paths (network, position, name, path) VALUES (?, ?, ?, ?)`,
			network.Name, i, lp.Name, lp.Path); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	return nil
}

func (s *Store) RemoveNetwork(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM networks WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("network %q: %w", name, storage.ErrNotFound)
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jilio/tabsync"
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// Store is a SQLite database shared by every tab of a profile.
//
// It implements tabsync.Storage on the kv table, and hands out tab
// transports that exchange messages through the messages table.
type Store struct {
	db      *sql.DB
	cfg     *config
	logger  Logger
	metrics MetricsHook

	getItem    *sql.Stmt
	setItem    *sql.Stmt
	removeItem *sql.Stmt
	appendMsg  *sql.Stmt
	headMsg    *sql.Stmt
	readMsgs   *sql.Stmt
	pruneMsgs  *sql.Stmt
}

var _ tabsync.Storage = (*Store)(nil)

// dbOpener opens connections; tests swap it out.
var dbOpener = sql.Open

// New opens the profile database at path, or a private in-memory database
// when path is ":memory:". Several Stores, even in different processes, may
// open the same file.
//
// Migrations run to completion regardless of caller cancellation.
func New(path string, opts ...Option) (*Store, error) {
	switch {
	case path == "":
		return nil, errors.New("sqlite: path is required")
	case path != memoryPath && strings.ContainsAny(path, "?#"):
		// The path is embedded in a file: URI
		return nil, fmt.Errorf("sqlite: path %q must not contain '?' or '#'", path)
	}

	cfg := defaultConfig()
	cfg.path = path
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := dbOpener("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if cfg.path == memoryPath {
		// Shared-cache table locks ignore busy_timeout
		db.SetMaxOpenConns(1)
	}

	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}

	if cfg.autoMigrate {
		if err := migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	return newFromDB(db, cfg)
}

// dsn builds the connection URI. In-memory stores get a unique name so
// that the pool's connections see one database and other stores don't.
func (c *config) dsn() string {
	if c.path == memoryPath {
		return "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d", c.path, c.busyTimeout.Milliseconds())
}

func newFromDB(db *sql.DB, cfg *config) (*Store, error) {
	s := &Store{
		db:      db,
		cfg:     cfg,
		logger:  cfg.logger,
		metrics: cfg.metricsHook,
	}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: prepare statements: %w", err)
	}
	return s, nil
}

func applyPragmas(db *sql.DB, cfg *config) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout.Milliseconds()),
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) prepare() error {
	queries := map[**sql.Stmt]string{
		&s.getItem: `SELECT value FROM kv WHERE key = ?`,
		&s.setItem: `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		&s.removeItem: `DELETE FROM kv WHERE key = ?`,
		&s.appendMsg:  `INSERT INTO messages (channel, origin, data, created_at) VALUES (?, ?, ?, ?)`,
		&s.headMsg:    `SELECT COALESCE(MAX(position), 0) FROM messages`,
		&s.readMsgs:   `SELECT position, origin, data FROM messages WHERE channel = ? AND position > ? ORDER BY position`,
		&s.pruneMsgs:  `DELETE FROM messages WHERE created_at < ?`,
	}
	for dest, query := range queries {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("prepare %q: %w", query, err)
		}
		*dest = stmt
	}
	return nil
}

func (s *Store) statements() []*sql.Stmt {
	return []*sql.Stmt{
		s.getItem, s.setItem, s.removeItem,
		s.appendMsg, s.headMsg, s.readMsgs, s.pruneMsgs,
	}
}

// GetItem implements tabsync.Storage
func (s *Store) GetItem(key string) (value string, ok bool, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.OnGetItem(time.Since(start), err)
		}
	}()

	switch err := s.getItem.QueryRow(key).Scan(&value); {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("sqlite: get item: %w", err)
	}
	return value, true, nil
}

// SetItem implements tabsync.Storage
func (s *Store) SetItem(key, value string) (err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.OnSetItem(time.Since(start), err)
		}
	}()

	if _, err := s.setItem.Exec(key, value, start.UnixMilli()); err != nil {
		return fmt.Errorf("sqlite: set item: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("stored item", "key", key, "size", len(value))
	}
	return nil
}

// RemoveItem implements tabsync.Storage
func (s *Store) RemoveItem(key string) error {
	if _, err := s.removeItem.Exec(key); err != nil {
		return fmt.Errorf("sqlite: remove item: %w", err)
	}
	return nil
}

// Close releases the database. Close the store's tabs first.
func (s *Store) Close() error {
	for _, stmt := range s.statements() {
		if stmt != nil {
			stmt.Close()
		}
	}
	if s.logger != nil {
		s.logger.Info("closing sqlite store", "path", s.cfg.path)
	}
	return s.db.Close()
}

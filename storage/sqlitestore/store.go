// Package sqlitestore implements the storage contract over a single SQLite
// database. The whatsmeow credential container shares the same database
// handle, so session credentials, raw messages, group metadata and audit
// records all live in one file.
package sqlitestore

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/storage"
	"github.com/rgranatodutra/wwebjs-api/walog"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	remote_jid TEXT NOT NULL,
	from_me INTEGER NOT NULL DEFAULT 0,
	payload BLOB NOT NULL,
	key_json TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(session_id, message_id)
);

CREATE TABLE IF NOT EXISTS group_metadata (
	session_id TEXT NOT NULL,
	jid TEXT NOT NULL,
	metadata BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY(session_id, jid)
);

CREATE TABLE IF NOT EXISTS processing_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instance TEXT NOT NULL,
	process_name TEXT NOT NULL,
	process_id TEXT NOT NULL,
	start_time TIMESTAMP NOT NULL,
	end_time TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	input_json TEXT,
	output_json TEXT,
	entries_json TEXT,
	has_error INTEGER NOT NULL DEFAULT 0,
	error TEXT
);
`

// Store is the SQLite-backed implementation of storage.Store.
type Store struct {
	db        *sql.DB
	container *sqlstore.Container
	logger    *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dsn, bootstraps the application
// schema and upgrades the embedded whatsmeow credential store.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "New", "opening database "+dsn)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "Store", "New", "bootstrapping schema")
	}

	container := sqlstore.NewWithDB(db, "sqlite3", walog.Wrap(logger.With("component", "whatsmeow-db")))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "Store", "New", "upgrading credential store")
	}

	return &Store{
		db:        db,
		container: container,
		logger:    logger,
	}, nil
}

// Container exposes the whatsmeow credential container for socket
// construction.
func (s *Store) Container() *sqlstore.Container {
	return s.container
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.WrapTransient(err, "Store", "Close", "closing database")
	}
	return nil
}

// SaveAuthState records that the session's credential state changed. The
// credential payload itself is persisted by the whatsmeow container; this
// row tracks the session's existence and last change.
func (s *Store) SaveAuthState(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now, now)
	if err != nil {
		return errors.WrapTransient(err, "Store", "SaveAuthState", "upserting session "+sessionID)
	}
	return nil
}

// ClearAuthState deletes every stored device credential plus the session
// row, forcing a fresh QR pairing on the next socket cycle.
func (s *Store) ClearAuthState(ctx context.Context, sessionID string) error {
	devices, err := s.container.GetAllDevices(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Store", "ClearAuthState", "listing devices")
	}

	for _, device := range devices {
		if err := s.container.DeleteDevice(ctx, device); err != nil {
			return errors.WrapTransient(err, "Store", "ClearAuthState", "deleting device credentials")
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return errors.WrapTransient(err, "Store", "ClearAuthState", "deleting session "+sessionID)
	}

	s.logger.Info("auth state cleared", "session", sessionID, "devices", len(devices))
	return nil
}

// Package store persists instance configuration documents in SQLite, keyed
// by plugin name and instance id. The host re-applies a stored document
// when an instance with the same identity is spawned again.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS instance_configs (
	plugin      TEXT    NOT NULL,
	instance_id INTEGER NOT NULL,
	document    TEXT    NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (plugin, instance_id)
);
`

// Store is a SQLite-backed config store.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init config store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type configRow struct {
	Plugin     string    `db:"plugin"`
	InstanceID int64     `db:"instance_id"`
	Document   string    `db:"document"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// SaveConfig upserts the config document for (plugin, id).
func (s *Store) SaveConfig(ctx context.Context, pluginName string, id uint64, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_configs (plugin, instance_id, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (plugin, instance_id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at`,
		pluginName, int64(id), string(doc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save config %s/%d: %w", pluginName, id, err)
	}
	return nil
}

// LoadConfig returns the stored document for (plugin, id), or nil when none
// exists.
func (s *Store) LoadConfig(ctx context.Context, pluginName string, id uint64) ([]byte, error) {
	var row configRow
	err := s.db.GetContext(ctx, &row, `
		SELECT plugin, instance_id, document, updated_at
		FROM instance_configs
		WHERE plugin = ? AND instance_id = ?`,
		pluginName, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s/%d: %w", pluginName, id, err)
	}
	return []byte(row.Document), nil
}

// DeleteConfig removes the stored document for (plugin, id). Deleting a
// missing document is not an error.
func (s *Store) DeleteConfig(ctx context.Context, pluginName string, id uint64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM instance_configs WHERE plugin = ? AND instance_id = ?`,
		pluginName, int64(id))
	if err != nil {
		return fmt.Errorf("delete config %s/%d: %w", pluginName, id, err)
	}
	return nil
}

// StoredConfig is one persisted document with its identity.
type StoredConfig struct {
	Plugin     string
	InstanceID uint64
	Document   []byte
	UpdatedAt  time.Time
}

// List returns every stored document, ordered by plugin then instance id.
func (s *Store) List(ctx context.Context) ([]StoredConfig, error) {
	var rows []configRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT plugin, instance_id, document, updated_at
		FROM instance_configs
		ORDER BY plugin, instance_id`)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	out := make([]StoredConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, StoredConfig{
			Plugin:     r.Plugin,
			InstanceID: uint64(r.InstanceID),
			Document:   []byte(r.Document),
			UpdatedAt:  r.UpdatedAt,
		})
	}
	return out, nil
}

// Package cache provides durable per-document persistence of the current
// item set, independent of network availability. It is deliberately
// failure-silent: a missing, unreadable, or corrupt entry loads as an empty
// document, and a failed save is logged and dropped. The sync engine treats
// the cache as best-effort local memory, never as a source of errors.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nwhit/corkboard/pkg/board"
)

// Cache stores one serialized item set per document.
type Cache struct {
	db  *sql.DB
	log *zap.Logger
}

// New creates a Cache over an Open()ed database. A nil logger disables
// logging.
func New(db *sql.DB, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{db: db, log: log}
}

// Load reads and sanitizes the cached item set for a document. Absence or
// corruption yields an empty list, never an error.
func (c *Cache) Load(ctx context.Context, documentID string) []board.Item {
	var payload string
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM documents WHERE key = ?`, docKey(documentID),
	).Scan(&payload)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.log.Warn("cache load failed, treating as empty",
				zap.String("document_id", documentID), zap.Error(err))
		}
		return []board.Item{}
	}

	return board.ParseItems([]byte(payload))
}

// Save writes through the current item set for a document. Failures are
// logged and swallowed; the caller keeps its in-memory state either way.
func (c *Cache) Save(ctx context.Context, documentID string, items []board.Item) {
	payload, err := json.Marshal(items)
	if err != nil {
		c.log.Warn("cache marshal failed", zap.String("document_id", documentID), zap.Error(err))
		return
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO documents (key, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		docKey(documentID), string(payload), time.Now().UnixMilli(),
	)
	if err != nil {
		c.log.Warn("cache save failed", zap.String("document_id", documentID), zap.Error(err))
	}
}

// Delete drops the cached entry for a document. Best-effort, like Save.
func (c *Cache) Delete(ctx context.Context, documentID string) {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM documents WHERE key = ?`, docKey(documentID),
	); err != nil {
		c.log.Warn("cache delete failed", zap.String("document_id", documentID), zap.Error(err))
	}
}

// docKey returns the namespaced storage key for a document.
// Pattern: corkboard:doc:{document_id}
func docKey(documentID string) string {
	return fmt.Sprintf("corkboard:doc:%s", documentID)
}

// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package index provides full-text search over conversation history.
package index

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/baboonchat/baboonchat-tui/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

// schema stores one row per chain message. The FTS table shadows messages
// for ranked content search; triggers keep the two in sync.
const schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id TEXT NOT NULL,
    thread_id TEXT NOT NULL,
    chain_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL  -- Unix nanoseconds
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content)
    VALUES ('delete', old.id, old.content);
END;
`

const initMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('last_rebuild', '0');
`

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyQuery indicates a blank search string.
	ErrEmptyQuery = errors.New("empty search query")
)

// =============================================================================
// MESSAGE INDEX
// =============================================================================

// MessageIndex is a SQLite-backed full-text index over every message in
// every chain. It is rebuilt wholesale from the in-memory thread map, which
// stays the source of truth; losing the index only loses search.
type MessageIndex struct {
	db *sql.DB
	mu sync.Mutex

	lastRebuild  time.Time
	messageCount int
}

// SearchResult is one match, best first.
type SearchResult struct {
	MessageID string
	ThreadID  string
	ChainID   string
	Kind      model.Kind
	Content   string
	Snippet   string
	CreatedAt time.Time
}

// Open creates or opens the index database at path.
func Open(path string) (*MessageIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}
	if _, err := db.Exec(initMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize index metadata: %w", err)
	}

	return &MessageIndex{db: db}, nil
}

// Close releases the database.
func (ix *MessageIndex) Close() error {
	return ix.db.Close()
}

// Rebuild replaces the index contents with the given threads, atomically
// within one transaction.
func (ix *MessageIndex) Rebuild(threads map[string]*model.Thread) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (message_id, thread_id, chain_id, kind, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, th := range threads {
		for _, chain := range th.Chains() {
			for _, m := range chain.Messages() {
				if strings.TrimSpace(m.Content) == "" {
					continue
				}
				if _, err := stmt.Exec(m.ID, m.ThreadID, m.ChainID,
					string(m.Kind), m.Content, m.CreatedAt.UnixNano()); err != nil {
					return fmt.Errorf("index message %s: %w", m.ID, err)
				}
				count++
			}
		}
	}

	if _, err := tx.Exec(`UPDATE metadata SET value = ? WHERE key = 'last_rebuild'`,
		fmt.Sprint(time.Now().Unix())); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}

	ix.lastRebuild = time.Now()
	ix.messageCount = count
	log.Printf("index: rebuilt with %d messages in %s",
		count, time.Since(start).Round(time.Millisecond))
	return nil
}

// Search runs a ranked full-text query, newest-biased only through bm25
// relevance. limit <= 0 means 20 results.
func (ix *MessageIndex) Search(query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 20
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	rows, err := ix.db.Query(`
		SELECT m.message_id, m.thread_id, m.chain_id, m.kind, m.content,
		       snippet(messages_fts, 0, '[', ']', '…', 12),
		       m.created_at
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.rowid
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var kind string
		var createdNanos int64
		if err := rows.Scan(&r.MessageID, &r.ThreadID, &r.ChainID, &kind,
			&r.Content, &r.Snippet, &createdNanos); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Kind = model.Kind(kind)
		r.CreatedAt = time.Unix(0, createdNanos)
		results = append(results, r)
	}
	return results, rows.Err()
}

// MessageCount returns how many messages the last rebuild indexed.
func (ix *MessageIndex) MessageCount() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.messageCount
}

// ftsQuery quotes each term so user input cannot inject FTS5 syntax, with
// a trailing wildcard on the last term for as-you-type prefixes.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, len(terms))
	for i, term := range terms {
		term = strings.ReplaceAll(term, `"`, `""`)
		if i == len(terms)-1 {
			quoted[i] = fmt.Sprintf(`"%s"*`, term)
		} else {
			quoted[i] = fmt.Sprintf(`"%s"`, term)
		}
	}
	return strings.Join(quoted, " ")
}

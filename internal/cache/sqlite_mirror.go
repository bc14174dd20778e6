package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	_ "modernc.org/sqlite"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/alerts"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/publish"
)

const mirrorSchema = `
CREATE TABLE IF NOT EXISTS mirror (
	id         TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteMirror stores the publish mirror in a sqlite table, one row per alert
type SQLiteMirror struct {
	conn    *sql.DB
	writeMu sync.Mutex
	now     func() time.Time
}

// OpenSQLiteMirror opens (and creates) the database at path with WAL enabled
func OpenSQLiteMirror(ctx context.Context, path string) (*SQLiteMirror, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create mirror directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}

	// sqlite allows a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping mirror database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, mirrorSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create mirror schema: %w", err)
	}

	logging.Infow(ctx, "Mirror: connected to sqlite database", "path", path)
	return &SQLiteMirror{conn: conn, now: time.Now}, nil
}

// Close closes the database connection
func (m *SQLiteMirror) Close() error {
	return m.conn.Close()
}

// Load reads all rows. Rows whose body cannot be decoded are skipped.
func (m *SQLiteMirror) Load(ctx context.Context) (publish.Mirror, error) {
	rows, err := m.conn.QueryContext(ctx, `SELECT id, body FROM mirror`)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror: %w", err)
	}
	defer rows.Close()

	mirror := publish.Mirror{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan mirror row: %w", err)
		}

		var alert alerts.Alert
		if err := json.Unmarshal([]byte(body), &alert); err != nil {
			logging.Warnw(ctx, "Mirror: skipping unreadable row", "alert.id", id, "error", err)
			continue
		}
		mirror[id] = alert
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mirror rows: %w", err)
	}

	return mirror, nil
}

// Save replaces all rows inside one transaction
func (m *SQLiteMirror) Save(ctx context.Context, mirror publish.Mirror) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mirror`); err != nil {
		return fmt.Errorf("failed to clear mirror: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO mirror (id, body, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare mirror insert: %w", err)
	}
	defer stmt.Close()

	updatedAt := m.now().Unix()
	for id, alert := range mirror {
		body, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("failed to marshal alert %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, string(body), updatedAt); err != nil {
			return fmt.Errorf("failed to insert alert %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mirror: %w", err)
	}

	logging.Debugw(ctx, "Mirror: saved", "alerts", len(mirror))
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cyclecount/internal"
	"cyclecount/internal/tabular"
)

var _ tabular.Backend = (*DB)(nil)

// DB is the local sqlite file. It keeps the audit log and can also stand in
// for the spreadsheet as a tabular backend when running offline.
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS audit_log (
  id TEXT PRIMARY KEY,
  ts TEXT NOT NULL,
  actor TEXT NOT NULL,
  action TEXT NOT NULL,
  sessionId TEXT,
  rowCount INTEGER NOT NULL DEFAULT 0,
  outcome TEXT NOT NULL,
  message TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(sessionId);

CREATE TABLE IF NOT EXISTS tabular_tables (
  name TEXT PRIMARY KEY,
  columnsJson TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tabular_rows (
  tableName TEXT NOT NULL,
  position INTEGER NOT NULL,
  rowJson TEXT NOT NULL,
  PRIMARY KEY(tableName, position),
  FOREIGN KEY(tableName) REFERENCES tabular_tables(name)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

// AppendAudit stores one entry. Entries are never updated.
func (d *DB) AppendAudit(ctx context.Context, entry internal.AuditLogEntry) error {
	if entry.ID == "" {
		return errors.New("audit entry without id")
	}
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO audit_log (id, ts, actor, action, sessionId, rowCount, outcome, message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, entry.ID, entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.Actor, entry.Action, entry.SessionID, entry.Rows, string(entry.Outcome), entry.Message)
	return err
}

// ListAudit returns entries oldest first; an empty sessionID lists everything.
func (d *DB) ListAudit(ctx context.Context, sessionID string) ([]internal.AuditLogEntry, error) {
	query := `SELECT id, ts, actor, action, sessionId, rowCount, outcome, message FROM audit_log`
	var args []any
	if sessionID != "" {
		query += ` WHERE sessionId = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY ts ASC, rowid ASC`

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.AuditLogEntry
	for rows.Next() {
		var e internal.AuditLogEntry
		var ts, outcome string
		var sid, msg sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Action, &sid, &e.Rows, &outcome, &msg); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.SessionID = sid.String
		e.Message = msg.String
		e.Outcome = internal.OutcomeStatus(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *DB) Load(ctx context.Context, table string) (tabular.Table, error) {
	var columnsJSON string
	err := d.conn.QueryRowContext(ctx, `SELECT columnsJson FROM tabular_tables WHERE name = ?`, table).Scan(&columnsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return tabular.Table{}, tabular.ErrTableNotFound
	}
	if err != nil {
		return tabular.Table{}, err
	}

	var out tabular.Table
	if err := json.Unmarshal([]byte(columnsJSON), &out.Columns); err != nil {
		return tabular.Table{}, fmt.Errorf("decode columns of %s: %w", table, err)
	}

	rows, err := d.conn.QueryContext(ctx, `SELECT rowJson FROM tabular_rows WHERE tableName = ? ORDER BY position ASC`, table)
	if err != nil {
		return tabular.Table{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return tabular.Table{}, err
		}
		row := tabular.Row{}
		if err := json.Unmarshal([]byte(blob), &row); err != nil {
			return tabular.Table{}, fmt.Errorf("decode row of %s: %w", table, err)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, rows.Err()
}

// Replace swaps the whole table inside one transaction.
func (d *DB) Replace(ctx context.Context, table string, data tabular.Table) error {
	columnsJSON, err := json.Marshal(data.Columns)
	if err != nil {
		return err
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tabular_rows WHERE tableName = ?`, table); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO tabular_tables (name, columnsJson) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET columnsJson = excluded.columnsJson, updatedAt = CURRENT_TIMESTAMP
`, table, string(columnsJSON)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tabular_rows (tableName, position, rowJson) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range data.Rows {
		blob, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode row %d of %s: %w", i, table, err)
		}
		if _, err := stmt.ExecContext(ctx, table, i, string(blob)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

package triplestore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS triples (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	s_kind INTEGER NOT NULL,
	s      TEXT    NOT NULL,
	p      TEXT    NOT NULL,
	o_kind INTEGER NOT NULL,
	o      TEXT    NOT NULL,
	o_type TEXT    NOT NULL DEFAULT '',
	UNIQUE(s_kind, s, p, o_kind, o, o_type)
);

CREATE INDEX IF NOT EXISTS idx_triples_s ON triples(s);
CREATE INDEX IF NOT EXISTS idx_triples_p_o ON triples(p, o);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore is a persistent Store in a single SQLite file.
type SQLiteStore struct {
	conn *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("triplestore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("triplestore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("triplestore: apply schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *SQLiteStore) Close() error {
	return db.conn.Close()
}

// Add inserts statements within one transaction.
func (db *SQLiteStore) Add(ts ...Triple) error {
	if len(ts) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("triplestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO triples (s_kind, s, p, o_kind, o, o_type) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("triplestore: prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, t := range ts {
		if _, err := stmt.Exec(t.S.Kind, t.S.Value, t.P.Value, t.O.Kind, t.O.Value, t.O.Datatype); err != nil {
			return fmt.Errorf("triplestore: insert: %w", err)
		}
	}
	return tx.Commit()
}

// Remove deletes the given statements within one transaction.
func (db *SQLiteStore) Remove(ts ...Triple) error {
	if len(ts) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("triplestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, t := range ts {
		_, err := tx.Exec(`DELETE FROM triples WHERE s_kind = ? AND s = ? AND p = ? AND o_kind = ? AND o = ? AND o_type = ?`,
			t.S.Kind, t.S.Value, t.P.Value, t.O.Kind, t.O.Value, t.O.Datatype)
		if err != nil {
			return fmt.Errorf("triplestore: delete: %w", err)
		}
	}
	return tx.Commit()
}

// RemoveMatching deletes every statement matching the pattern.
func (db *SQLiteStore) RemoveMatching(s, p, o *Term) (int, error) {
	where, args := patternClause(s, p, o)
	res, err := db.conn.Exec(`DELETE FROM triples`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("triplestore: delete matching: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Match returns the statements matching the pattern in insertion order.
func (db *SQLiteStore) Match(s, p, o *Term) ([]Triple, error) {
	where, args := patternClause(s, p, o)
	rows, err := db.conn.Query(`SELECT s_kind, s, p, o_kind, o, o_type FROM triples`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("triplestore: match: %w", err)
	}
	defer rows.Close()

	var out []Triple
	for rows.Next() {
		var t Triple
		if err := rows.Scan(&t.S.Kind, &t.S.Value, &t.P.Value, &t.O.Kind, &t.O.Value, &t.O.Datatype); err != nil {
			return nil, err
		}
		t.P.Kind = KindIRI
		out = append(out, t)
	}
	return out, rows.Err()
}

// Len returns the number of statements.
func (db *SQLiteStore) Len() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM triples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("triplestore: count: %w", err)
	}
	return n, nil
}

// Replace swaps the whole content for the statements of src in a single
// transaction.
func (db *SQLiteStore) Replace(src Reader) error {
	ts, err := All(src)
	if err != nil {
		return err
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("triplestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM triples`); err != nil {
		return fmt.Errorf("triplestore: clear: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO triples (s_kind, s, p, o_kind, o, o_type) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("triplestore: prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, t := range ts {
		if _, err := stmt.Exec(t.S.Kind, t.S.Value, t.P.Value, t.O.Kind, t.O.Value, t.O.Datatype); err != nil {
			return fmt.Errorf("triplestore: insert: %w", err)
		}
	}
	return tx.Commit()
}

// SetMeta records a key/value pair alongside the statements.
func (db *SQLiteStore) SetMeta(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("triplestore: set meta: %w", err)
	}
	return nil
}

// Meta returns the value stored under key, or "" when absent.
func (db *SQLiteStore) Meta(key string) (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("triplestore: meta: %w", err)
	}
	return v, nil
}

func patternClause(s, p, o *Term) (string, []any) {
	var conds []string
	var args []any
	if s != nil {
		conds = append(conds, "s_kind = ? AND s = ?")
		args = append(args, s.Kind, s.Value)
	}
	if p != nil {
		conds = append(conds, "p = ?")
		args = append(args, p.Value)
	}
	if o != nil {
		conds = append(conds, "o_kind = ? AND o = ? AND o_type = ?")
		args = append(args, o.Kind, o.Value, o.Datatype)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dex_go/internal/domain"
	"dex_go/internal/instruction"

	_ "github.com/glebarez/go-sqlite"
)

// Journal is the write-ahead instruction log in SQLite.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens the journal at dbPath with WAL mode enabled.
func OpenJournal(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer keeps the append order equal to the seq order.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS instructions (
			seq INTEGER PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			signer TEXT NOT NULL,
			ts INTEGER NOT NULL,
			body BLOB NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create instructions table: %w", err)
	}

	return &Journal{db: db}, nil
}

// Append stores an admitted instruction. A reused ID reports ErrAlreadyExists.
func (j *Journal) Append(ctx context.Context, ins *instruction.Instruction) error {
	body, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("failed to marshal instruction: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		"INSERT INTO instructions (seq, id, kind, signer, ts, body) VALUES (?, ?, ?, ?, ?, ?)",
		int64(ins.Seq), ins.ID, string(ins.Kind), ins.Signer.String(), int64(ins.Ts), body,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: instructions.id") {
			return fmt.Errorf("%w: instruction %s", domain.ErrAlreadyExists, ins.ID)
		}
		return fmt.Errorf("failed to insert instruction %d: %w", ins.Seq, err)
	}
	return nil
}

// LastSeq returns the highest journaled sequence number, 0 when empty.
func (j *Journal) LastSeq(ctx context.Context) (uint64, error) {
	var lastSeq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM instructions").Scan(&lastSeq); err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil
	}
	return uint64(lastSeq.Int64), nil
}

// Load returns instructions from fromSeq (inclusive) in order.
func (j *Journal) Load(ctx context.Context, fromSeq uint64) ([]*instruction.Instruction, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT seq, body FROM instructions WHERE seq >= ? ORDER BY seq ASC", int64(fromSeq))
	if err != nil {
		return nil, fmt.Errorf("failed to query instructions: %w", err)
	}
	defer rows.Close()

	var out []*instruction.Instruction
	for rows.Next() {
		var seq int64
		var body []byte
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, fmt.Errorf("failed to scan instruction: %w", err)
		}
		var ins instruction.Instruction
		if err := json.Unmarshal(body, &ins); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instruction %d: %w", seq, err)
		}
		out = append(out, &ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

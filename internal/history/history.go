// Package history records completed and failed transfers in a local
// SQLite database so past activity survives restarts.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Terminal outcomes of a transfer.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// ErrNotFound indicates no row matched the query.
var ErrNotFound = errors.New("history: not found")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transfers (
  transfer_id     TEXT PRIMARY KEY,
  final_path      TEXT NOT NULL,
  file_size       INTEGER NOT NULL,
  chunk_count     INTEGER NOT NULL,
  bytes_received  INTEGER NOT NULL,
  checksum        TEXT NOT NULL DEFAULT '',
  status          TEXT NOT NULL CHECK(status IN ('completed','failed','canceled')),
  error           TEXT NOT NULL DEFAULT '',
  started_at      INTEGER NOT NULL,
  finished_at     INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfers_finished_at
ON transfers (finished_at DESC, transfer_id);
`,
}

// TransferRecord is one row of transfer history. Timestamps are Unix
// milliseconds.
type TransferRecord struct {
	TransferID    string
	FinalPath     string
	FileSize      int64
	ChunkCount    int
	BytesReceived int64
	Checksum      string
	Status        string
	Error         string
	StartedAt     int64
	FinishedAt    int64
}

// Store is a thin wrapper around a SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordTransfer inserts (or replaces) the terminal record of a
// transfer. Re-running a transfer under the same id overwrites its
// prior outcome.
func (s *Store) RecordTransfer(rec TransferRecord) error {
	if rec.TransferID == "" {
		return errors.New("transfer_id is required")
	}
	if err := validateStatus(rec.Status); err != nil {
		return err
	}
	if rec.FinishedAt == 0 {
		rec.FinishedAt = time.Now().UnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO transfers (
			transfer_id,
			final_path,
			file_size,
			chunk_count,
			bytes_received,
			checksum,
			status,
			error,
			started_at,
			finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TransferID,
		rec.FinalPath,
		rec.FileSize,
		rec.ChunkCount,
		rec.BytesReceived,
		rec.Checksum,
		rec.Status,
		rec.Error,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer record %q: %w", rec.TransferID, err)
	}
	return nil
}

// Get fetches one transfer record by id.
func (s *Store) Get(transferID string) (*TransferRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+recordColumns+`
		FROM transfers
		WHERE transfer_id = ?`,
		transferID,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer record %q: %w", transferID, err)
	}
	return rec, nil
}

// Recent returns the most recently finished transfers, newest first.
func (s *Store) Recent(limit int) ([]TransferRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT `+recordColumns+`
		FROM transfers
		ORDER BY finished_at DESC, transfer_id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent transfers: %w", err)
	}
	defer rows.Close()

	records := make([]TransferRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan transfer record row: %w", scanErr)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer record rows: %w", err)
	}
	return records, nil
}

const recordColumns = `transfer_id,
	final_path,
	file_size,
	chunk_count,
	bytes_received,
	checksum,
	status,
	error,
	started_at,
	finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*TransferRecord, error) {
	var rec TransferRecord
	if err := row.Scan(
		&rec.TransferID,
		&rec.FinalPath,
		&rec.FileSize,
		&rec.ChunkCount,
		&rec.BytesReceived,
		&rec.Checksum,
		&rec.Status,
		&rec.Error,
		&rec.StartedAt,
		&rec.FinishedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

func validateStatus(status string) error {
	switch status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return nil
	default:
		return fmt.Errorf("invalid transfer status %q", status)
	}
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

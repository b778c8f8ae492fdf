package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dougsko/steppird/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
)

// Command outcomes
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Entry is one antenna command in the journal
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Frequency uint64    `json:"frequency,omitempty"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// HistoryStore journals antenna commands to SQLite. It is only read for
// display; nothing is restored from it at startup.
type HistoryStore struct {
	db         *sql.DB
	dbPath     string
	maxEntries int
}

// NewHistoryStore opens the journal at dbPath, or an in-memory journal when
// dbPath is empty
func NewHistoryStore(dbPath string, maxEntries int) (*HistoryStore, error) {
	store := &HistoryStore{
		dbPath:     dbPath,
		maxEntries: maxEntries,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	return store, nil
}

func (hs *HistoryStore) initialize() error {
	var connectionString string
	if hs.dbPath == "" {
		connectionString = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(hs.dbPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		connectionString = hs.dbPath + "?_busy_timeout=10000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	hs.db = db

	if err := hs.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	location := hs.dbPath
	if location == "" {
		location = "memory"
	}
	logging.Infof("storage", "history store initialized: %s (max %d entries)", location, hs.maxEntries)
	return nil
}

func (hs *HistoryStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS antenna_commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		command TEXT NOT NULL,
		frequency INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL CHECK (outcome IN ('delivered', 'failed', 'rejected')),
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_antenna_commands_timestamp ON antenna_commands(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_antenna_commands_outcome ON antenna_commands(outcome);

	CREATE TABLE IF NOT EXISTS history_stats (
		id INTEGER PRIMARY KEY,
		total INTEGER NOT NULL DEFAULT 0,
		delivered INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		last_cleanup DATETIME
	);

	INSERT OR IGNORE INTO history_stats (id, total, delivered, failed) VALUES (1, 0, 0, 0);
	`

	_, err := hs.db.Exec(schema)
	return err
}

// Record appends entry to the journal, pruning the oldest entries beyond the limit
func (hs *HistoryStore) Record(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	tx, err := hs.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO antenna_commands (timestamp, command, frequency, outcome, error)
		VALUES (?, ?, ?, ?, ?)
	`, entry.Timestamp.UTC(), entry.Command, int64(entry.Frequency), entry.Outcome, entry.Error)
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE history_stats SET
			total = total + 1,
			delivered = CASE WHEN ? = 'delivered' THEN delivered + 1 ELSE delivered END,
			failed = CASE WHEN ? = 'failed' THEN failed + 1 ELSE failed END
		WHERE id = 1
	`, entry.Outcome, entry.Outcome)
	if err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}

	if err := hs.prune(tx); err != nil {
		logging.Warn("storage", "failed to prune history", logging.Fields{"error": err.Error()})
	}

	return tx.Commit()
}

// prune removes entries beyond maxEntries
func (hs *HistoryStore) prune(tx *sql.Tx) error {
	if hs.maxEntries <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM antenna_commands").Scan(&count); err != nil {
		return err
	}
	if count <= hs.maxEntries {
		return nil
	}

	_, err := tx.Exec(`
		DELETE FROM antenna_commands
		WHERE id IN (SELECT id FROM antenna_commands ORDER BY id ASC LIMIT ?)
	`, count-hs.maxEntries)
	if err != nil {
		return err
	}

	_, err = tx.Exec("UPDATE history_stats SET last_cleanup = CURRENT_TIMESTAMP WHERE id = 1")
	return err
}

// Close closes the database
func (hs *HistoryStore) Close() error {
	if hs.db != nil {
		return hs.db.Close()
	}
	return nil
}

package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// HistoryQuery filters journal entries. Zero values match everything.
type HistoryQuery struct {
	Limit   int
	Offset  int
	Since   *time.Time
	Command string
	Outcome string
}

// HistoryStats summarises the journal
type HistoryStats struct {
	Total       int       `json:"total"`
	Delivered   int       `json:"delivered"`
	Failed      int       `json:"failed"`
	Stored      int       `json:"stored"`
	LastCleanup time.Time `json:"last_cleanup"`
}

// Query returns matching entries, newest first
func (hs *HistoryStore) Query(query HistoryQuery) ([]Entry, error) {
	var args []interface{}
	sqlQuery := `
		SELECT id, timestamp, command, frequency, outcome, error
		FROM antenna_commands
		WHERE 1=1
	`

	if query.Since != nil {
		sqlQuery += " AND timestamp >= ?"
		args = append(args, query.Since.UTC())
	}
	if query.Command != "" {
		sqlQuery += " AND command = ?"
		args = append(args, query.Command)
	}
	if query.Outcome != "" {
		sqlQuery += " AND outcome = ?"
		args = append(args, query.Outcome)
	}

	sqlQuery += " ORDER BY id DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)

		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := hs.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var frequency int64
		err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.Command,
			&frequency,
			&entry.Outcome,
			&entry.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.Frequency = uint64(frequency)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Recent returns the newest limit entries
func (hs *HistoryStore) Recent(limit int) ([]Entry, error) {
	return hs.Query(HistoryQuery{Limit: limit})
}

// Stats returns lifetime counters and the number of stored entries
func (hs *HistoryStore) Stats() (*HistoryStats, error) {
	var stats HistoryStats
	var lastCleanup sql.NullTime

	err := hs.db.QueryRow(`
		SELECT total, delivered, failed, last_cleanup
		FROM history_stats WHERE id = 1
	`).Scan(&stats.Total, &stats.Delivered, &stats.Failed, &lastCleanup)
	if err != nil {
		return nil, fmt.Errorf("failed to get history stats: %w", err)
	}
	if lastCleanup.Valid {
		stats.LastCleanup = lastCleanup.Time
	}

	if err := hs.db.QueryRow("SELECT COUNT(*) FROM antenna_commands").Scan(&stats.Stored); err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}

	return &stats, nil
}

package storage

import (
	"context"
	"fmt"
	"time"
)

// DefaultHistorySize is the number of entries kept.
const DefaultHistorySize = 50

// HistoryItem records one change made to a paperless document.
type HistoryItem struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Datetime  time.Time `json:"datetime"`
	Operation string    `json:"operation"`
	Details   string    `json:"details"`
}

// History is a capped log of document updates.
type History struct {
	db  *DB
	max int
}

// History returns the update log, keeping the last max entries.
func (db *DB) History(max int) *History {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &History{db: db, max: max}
}

// LogUpdate appends an "updated" entry for a document.
func (h *History) LogUpdate(ctx context.Context, documentID int, title, details string) (HistoryItem, error) {
	item := HistoryItem{ID: documentID, Title: title, Datetime: time.Now(), Operation: "updated", Details: details}
	return item, h.Add(ctx, item)
}

// Add appends item and drops entries beyond the cap.
func (h *History) Add(ctx context.Context, item HistoryItem) error {
	_, err := h.db.sql.ExecContext(ctx,
		`INSERT INTO history (document_id, title, at, operation, details) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.Title, item.Datetime.UnixNano(), item.Operation, item.Details)
	if err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	_, err = h.db.sql.ExecContext(ctx,
		`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`, h.max)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

// List returns the kept entries, oldest first.
func (h *History) List(ctx context.Context) ([]HistoryItem, error) {
	rows, err := h.db.sql.QueryContext(ctx,
		`SELECT document_id, title, at, operation, details FROM history ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := []HistoryItem{}
	for rows.Next() {
		var (
			item HistoryItem
			at   int64
		)
		if err := rows.Scan(&item.ID, &item.Title, &at, &item.Operation, &item.Details); err != nil {
			return nil, err
		}
		item.Datetime = time.Unix(0, at)
		items = append(items, item)
	}
	return items, rows.Err()
}

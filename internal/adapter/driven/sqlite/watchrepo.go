package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WatchStore = (*WatchRepo)(nil)

// WatchRepo is the SQLite implementation of the WatchStore port interface.
type WatchRepo struct {
	db *DB
}

// NewWatchRepo creates a new WatchRepo backed by the given DB.
func NewWatchRepo(db *DB) *WatchRepo {
	return &WatchRepo{db: db}
}

// Add inserts a watched address. Returns ErrAlreadyWatched if the address is
// already on the watchlist.
func (r *WatchRepo) Add(ctx context.Context, w model.WatchedAddress) error {
	const query = `INSERT INTO watchlist (address, customization, added_at) VALUES (?, ?, ?)`

	addedAt := w.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	_, err := r.db.Writer.ExecContext(ctx, query, w.Address, w.Customization, addedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("add watched address %s: %w", w.Address, driven.ErrAlreadyWatched)
		}
		return fmt.Errorf("add watched address %s: %w", w.Address, err)
	}

	return nil
}

// Remove deletes a watched address.
func (r *WatchRepo) Remove(ctx context.Context, address string) error {
	const query = `DELETE FROM watchlist WHERE address = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, address)
	if err != nil {
		return fmt.Errorf("remove watched address %s: %w", address, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("remove watched address %s: %w", address, driven.ErrWatchNotFound)
	}

	return nil
}

// Get returns the watched address, or nil, nil if it is not watched.
func (r *WatchRepo) Get(ctx context.Context, address string) (*model.WatchedAddress, error) {
	const query = `SELECT id, address, customization, added_at FROM watchlist WHERE address = ?`

	w, err := scanWatched(r.db.Reader.QueryRowContext(ctx, query, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watched address %s: %w", address, err)
	}

	return w, nil
}

// ListAll returns the watchlist ordered by address.
func (r *WatchRepo) ListAll(ctx context.Context) ([]model.WatchedAddress, error) {
	const query = `SELECT id, address, customization, added_at FROM watchlist ORDER BY address`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	var watched []model.WatchedAddress
	for rows.Next() {
		w, err := scanWatched(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watched address: %w", err)
		}
		watched = append(watched, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watchlist: %w", err)
	}

	return watched, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanWatched(s scanner) (*model.WatchedAddress, error) {
	var w model.WatchedAddress
	var addedAt string

	if err := s.Scan(&w.ID, &w.Address, &w.Customization, &addedAt); err != nil {
		return nil, err
	}

	var err error
	w.AddedAt, err = parseTime(addedAt)
	if err != nil {
		return nil, fmt.Errorf("parse added_at: %w", err)
	}

	return &w, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}

package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/oliverhazley/MindMend/internal/hrvstore/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

// readingTimeLayout is fixed width so that reading_time orders as text.
const readingTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type HRVRepository interface {
	InsertReading(ctx context.Context, userID string, ts time.Time, value float64) (int64, error)
	GetReadings(ctx context.Context, userID string, limit int) ([]types.Reading, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) HRVRepository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) InsertReading(ctx context.Context, userID string, ts time.Time, value float64) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertReadingSQL, userID, ts.UTC().Format(readingTimeLayout), value)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert reading id: %w", err)
	}
	return id, nil
}

// GetReadings returns up to limit readings for userID, newest first.
func (r *repositoryImpl) GetReadings(ctx context.Context, userID string, limit int) ([]types.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getReadingsSQL, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close hrv readings rows", "error", err)
		}
	}()

	out := []types.Reading{}
	for rows.Next() {
		var rec types.Reading
		var ts string
		if err := rows.Scan(&rec.ID, &rec.UserID, &ts, &rec.HRVValue); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse reading_time %q: %w", ts, err)
		}
		rec.ReadingTime = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

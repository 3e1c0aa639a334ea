package store

import (
	"context"
	"database/sql"
	"errors"

	"parkgate/internal/models"
)

// AggregateStore persists derived per-date summaries. The table is a cache:
// it is always recomputable from session rows and never a source of truth.
type AggregateStore struct {
	db *sql.DB
}

// NewAggregateStore returns the repository.
func NewAggregateStore(db *sql.DB) *AggregateStore {
	return &AggregateStore{db: db}
}

// Upsert inserts or replaces the aggregate row for its date.
func (s *AggregateStore) Upsert(ctx context.Context, agg models.DailyAggregate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_aggregates (date, total_entries, total_exits, total_revenue, unauthorized_exits)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date) DO UPDATE SET
			total_entries = EXCLUDED.total_entries,
			total_exits = EXCLUDED.total_exits,
			total_revenue = EXCLUDED.total_revenue,
			unauthorized_exits = EXCLUDED.unauthorized_exits
	`, agg.Date, agg.TotalEntries, agg.TotalExits, agg.TotalRevenue, agg.UnauthorizedExits)
	return err
}

// Get returns the cached aggregate for a date, or ErrNotFound.
func (s *AggregateStore) Get(ctx context.Context, date string) (models.DailyAggregate, error) {
	agg := models.DailyAggregate{Date: date}
	err := s.db.QueryRowContext(ctx, `
		SELECT total_entries, total_exits, total_revenue, unauthorized_exits
		FROM daily_aggregates
		WHERE date = $1
	`, date).Scan(&agg.TotalEntries, &agg.TotalExits, &agg.TotalRevenue, &agg.UnauthorizedExits)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DailyAggregate{}, ErrNotFound
	}
	if err != nil {
		return models.DailyAggregate{}, err
	}
	return agg, nil
}

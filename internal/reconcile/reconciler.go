// Package reconcile replays the CSV journal into the relational store and
// refreshes derived daily aggregates. Both passes are idempotent, so the
// reconciler can run at startup and on a timer without double counting.
package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parkgate/internal/fee"
	"parkgate/internal/journal"
	"parkgate/internal/models"
	"parkgate/internal/store"
)

// JournalReader is the journal surface the reconciler needs.
type JournalReader interface {
	Records() ([]journal.Record, error)
}

// SessionStore is the session persistence surface the reconciler needs.
type SessionStore interface {
	FindByPlateAndEntryTime(ctx context.Context, plateNumber string, entryTime time.Time) (*models.Session, error)
	InsertFromJournal(ctx context.Context, plateNumber string, entryTime time.Time, paid bool, amount int64, paymentTime time.Time) error
	SettlePayment(ctx context.Context, id int64, amount int64, paymentTime time.Time) error
	DayStats(ctx context.Context, date string) (models.DailyAggregate, error)
}

// AggregateStore persists recomputed daily summaries.
type AggregateStore interface {
	Upsert(ctx context.Context, agg models.DailyAggregate) error
}

// MergeStats summarizes one journal merge pass.
type MergeStats struct {
	Inserted int
	Updated  int
}

// Reconciler converges the relational store toward the journal.
type Reconciler struct {
	journal    JournalReader
	sessions   SessionStore
	aggregates AggregateStore
	calc       fee.Calculator
	logger     *zap.Logger
	now        func() time.Time
}

// New wires a reconciler.
func New(jrnl JournalReader, sessions SessionStore, aggregates AggregateStore, calc fee.Calculator, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		journal:    jrnl,
		sessions:   sessions,
		aggregates: aggregates,
		calc:       calc,
		logger:     logger,
		now:        time.Now,
	}
}

// MergeJournal replays every journal row into the store, keyed by
// plate+entry-time. Missing rows are inserted carrying the journal's payment
// state; rows the journal knows as paid but the store still holds unpaid are
// settled. Rows already in agreement are left alone.
func (r *Reconciler) MergeJournal(ctx context.Context) (MergeStats, error) {
	records, err := r.journal.Records()
	if err != nil {
		return MergeStats{}, err
	}

	var stats MergeStats
	for _, rec := range records {
		session, err := r.sessions.FindByPlateAndEntryTime(ctx, rec.Plate, rec.EntryTime)
		switch {
		case errors.Is(err, store.ErrNotFound):
			var amount int64
			if rec.Paid {
				amount = r.calc.Fee(rec.EntryTime, rec.PaymentTime)
			}
			if err := r.sessions.InsertFromJournal(ctx, rec.Plate, rec.EntryTime, rec.Paid, amount, rec.PaymentTime); err != nil {
				return stats, err
			}
			stats.Inserted++
		case err != nil:
			return stats, err
		default:
			if !rec.Paid || session.Paid() {
				continue
			}
			amount := r.calc.Fee(rec.EntryTime, rec.PaymentTime)
			err := r.sessions.SettlePayment(ctx, session.ID, amount, rec.PaymentTime)
			if errors.Is(err, store.ErrInvalidState) {
				// Settled by someone else since the lookup.
				continue
			}
			if err != nil {
				return stats, err
			}
			stats.Updated++
		}
	}

	if stats.Inserted > 0 || stats.Updated > 0 {
		r.logger.Info("journal merged into store",
			zap.Int("inserted", stats.Inserted),
			zap.Int("updated", stats.Updated),
		)
	}
	return stats, nil
}

// RecomputeDay rebuilds the aggregate row for one date from raw session rows.
func (r *Reconciler) RecomputeDay(ctx context.Context, date string) (models.DailyAggregate, error) {
	agg, err := r.sessions.DayStats(ctx, date)
	if err != nil {
		return models.DailyAggregate{}, err
	}
	if err := r.aggregates.Upsert(ctx, agg); err != nil {
		return models.DailyAggregate{}, err
	}
	return agg, nil
}

// Run merges and recomputes on a fixed interval until ctx is canceled. One
// pass runs immediately on start.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.pass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) pass(ctx context.Context) {
	if _, err := r.MergeJournal(ctx); err != nil {
		r.logger.Error("journal merge failed", zap.Error(err))
	}
	today := r.now().Format(models.DateLayout)
	if _, err := r.RecomputeDay(ctx, today); err != nil {
		r.logger.Error("daily aggregate recompute failed", zap.String("date", today), zap.Error(err))
	}
}

// Package settlement runs the payment flow at the terminal: read a tag,
// price every unpaid crossing, debit the tag, then commit the payment to the
// journal and the relational store with compensation on failure.
package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"parkgate/internal/fee"
	"parkgate/internal/journal"
	"parkgate/internal/link"
	"parkgate/internal/store"
)

// Outcome classifies one settlement attempt.
type Outcome string

const (
	// OutcomeSettled: all unpaid crossings were paid and recorded.
	OutcomeSettled Outcome = "settled"
	// OutcomeNoTag: no tag was presented within the window.
	OutcomeNoTag Outcome = "no_tag"
	// OutcomeNoUnpaidSession: tag read fine but nothing is owed.
	OutcomeNoUnpaidSession Outcome = "no_unpaid_session"
	// OutcomeInsufficientBalance: the tag cannot cover the total due.
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
	// OutcomeTagWriteFailed: the debit never reached the tag; nothing changed.
	OutcomeTagWriteFailed Outcome = "tag_write_failed"
	// OutcomeStoreCommitFailed: the debit reached the tag but recording it
	// failed; the debit was compensated and the journal restored.
	OutcomeStoreCommitFailed Outcome = "store_commit_failed"
)

// Result describes what one SettleNext attempt did.
type Result struct {
	Outcome    Outcome
	Plate      string
	Sessions   int
	TotalDue   int64
	NewBalance int64
	// CompensationFailed is set when a failed commit could not be rolled
	// back cleanly: the tag balance and the records disagree and need an
	// operator.
	CompensationFailed bool
}

// TagDevice is the slice of the link the engine needs.
type TagDevice interface {
	ReadTag(ctx context.Context) (link.Tag, error)
	WriteBalance(ctx context.Context, balance int64) error
	SignalInsufficient() error
}

// PaymentJournal is the journal surface used during settlement.
type PaymentJournal interface {
	UnpaidByPlate(plate string) ([]journal.Record, error)
	MarkPaid(plate string, entryTimes []time.Time, paymentTime time.Time) error
	Snapshot() ([]byte, error)
	Restore(snapshot []byte) error
}

// SessionSettler commits a settled batch to the relational store.
type SessionSettler interface {
	SettleBatch(ctx context.Context, plateNumber string, items []store.SettlementItem, paymentTime time.Time) error
}

// Engine serializes settlement attempts over one tag device.
type Engine struct {
	mu      sync.Mutex
	device  TagDevice
	journal PaymentJournal
	store   SessionSettler
	calc    fee.Calculator
	logger  *zap.Logger
	now     func() time.Time
}

// New wires a settlement engine.
func New(device TagDevice, paymentJournal PaymentJournal, sessions SessionSettler, calc fee.Calculator, logger *zap.Logger) *Engine {
	return &Engine{
		device:  device,
		journal: paymentJournal,
		store:   sessions,
		calc:    calc,
		logger:  logger,
		now:     time.Now,
	}
}

// SettleNext waits for one tag presentation and settles every unpaid crossing
// for that plate in a single transaction. An absent tag is not an error; the
// terminal loop just calls again.
//
// Ordering is deliberate: the tag is debited first, then the journal, then the
// store. A failure after the debit triggers a compensating credit and a
// journal restore so no money is taken without a matching record.
func (e *Engine) SettleNext(ctx context.Context) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tag, err := e.device.ReadTag(ctx)
	if errors.Is(err, link.ErrNoTag) {
		return Result{Outcome: OutcomeNoTag}, nil
	}
	if err != nil {
		return Result{}, err
	}

	unpaid, err := e.journal.UnpaidByPlate(tag.Plate)
	if err != nil {
		return Result{}, err
	}
	if len(unpaid) == 0 {
		e.logger.Info("tag has no unpaid sessions", zap.String("plate", tag.Plate))
		return Result{Outcome: OutcomeNoUnpaidSession, Plate: tag.Plate}, nil
	}

	reference := e.now()
	items := make([]store.SettlementItem, 0, len(unpaid))
	entryTimes := make([]time.Time, 0, len(unpaid))
	var totalDue int64
	for _, rec := range unpaid {
		amount := e.calc.Fee(rec.EntryTime, reference)
		totalDue += amount
		items = append(items, store.SettlementItem{EntryTime: rec.EntryTime, Amount: amount})
		entryTimes = append(entryTimes, rec.EntryTime)
	}

	result := Result{
		Plate:    tag.Plate,
		Sessions: len(unpaid),
		TotalDue: totalDue,
	}

	if tag.Balance < totalDue {
		e.logger.Warn("insufficient balance",
			zap.String("plate", tag.Plate),
			zap.Int64("balance", tag.Balance),
			zap.Int64("due", totalDue),
		)
		if err := e.device.SignalInsufficient(); err != nil {
			e.logger.Error("insufficient-balance signal failed", zap.Error(err))
		}
		result.Outcome = OutcomeInsufficientBalance
		result.NewBalance = tag.Balance
		return result, nil
	}

	newBalance := tag.Balance - totalDue
	if err := e.device.WriteBalance(ctx, newBalance); err != nil {
		e.logger.Error("tag debit failed, settlement aborted",
			zap.String("plate", tag.Plate),
			zap.Error(err),
		)
		result.Outcome = OutcomeTagWriteFailed
		result.NewBalance = tag.Balance
		return result, nil
	}

	snapshot, err := e.journal.Snapshot()
	if err != nil {
		return e.compensate(ctx, result, tag.Balance, nil, err)
	}

	paymentTime := e.now()
	if err := e.journal.MarkPaid(tag.Plate, entryTimes, paymentTime); err != nil {
		return e.compensate(ctx, result, tag.Balance, snapshot, err)
	}
	if err := e.store.SettleBatch(ctx, tag.Plate, items, paymentTime); err != nil {
		return e.compensate(ctx, result, tag.Balance, snapshot, err)
	}

	e.logger.Info("settlement committed",
		zap.String("plate", tag.Plate),
		zap.Int("sessions", len(unpaid)),
		zap.Int64("amount", totalDue),
		zap.Int64("new_balance", newBalance),
	)
	result.Outcome = OutcomeSettled
	result.NewBalance = newBalance
	return result, nil
}

// compensate credits the debit back to the tag and restores the journal
// snapshot after a failed commit. Both legs are attempted even if the first
// fails; any leg failing marks the result as needing operator attention.
func (e *Engine) compensate(ctx context.Context, result Result, oldBalance int64, snapshot []byte, cause error) (Result, error) {
	e.logger.Error("settlement commit failed, compensating",
		zap.String("plate", result.Plate),
		zap.Error(cause),
	)

	result.Outcome = OutcomeStoreCommitFailed
	result.NewBalance = oldBalance

	if err := e.device.WriteBalance(ctx, oldBalance); err != nil {
		e.logger.Error("compensating balance write failed; tag and records disagree",
			zap.String("plate", result.Plate),
			zap.Int64("balance", oldBalance),
			zap.Error(err),
		)
		result.CompensationFailed = true
	}
	if snapshot != nil {
		if err := e.journal.Restore(snapshot); err != nil {
			e.logger.Error("journal restore failed",
				zap.String("plate", result.Plate),
				zap.Error(err),
			)
			result.CompensationFailed = true
		}
	}
	return result, nil
}

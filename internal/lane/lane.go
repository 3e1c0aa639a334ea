// Package lane runs one gate lane: it folds raw plate-recognition frames into
// a consensus reading and drives the entry or exit decision for it.
package lane

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parkgate/internal/cache"
	"parkgate/internal/config"
	"parkgate/internal/journal"
	"parkgate/internal/models"
	"parkgate/internal/plate"
	"parkgate/internal/store"
)

// Action is the decision taken for a consensus plate.
type Action string

const (
	ActionEntryOpened        Action = "entry_opened"
	ActionEntryCooldown      Action = "entry_cooldown"
	ActionEntryAlreadyInside Action = "entry_already_inside"
	ActionExitAuthorized     Action = "exit_authorized"
	ActionExitUnauthorized   Action = "exit_unauthorized"
	ActionExitUnknownVehicle Action = "exit_unknown_vehicle"
)

// Decision reports what the lane did once a consensus plate emerged.
type Decision struct {
	Plate  string `json:"plate"`
	Action Action `json:"action"`
}

// SessionStore is the session persistence surface the lane needs.
type SessionStore interface {
	Open(ctx context.Context, plateNumber string, entryTime time.Time) (*models.Session, error)
	FindOpen(ctx context.Context, plateNumber string) (*models.Session, error)
	Close(ctx context.Context, id int64, exitTime time.Time, authorized bool) error
}

// Journal is the transaction-log surface the lane needs.
type Journal interface {
	Append(rec journal.Record) error
	LatestByPlate(plateNumber string) (journal.Record, error)
}

// Gate drives the physical barrier.
type Gate interface {
	PulseGate(ctx context.Context) error
	Alarm() error
}

// Lane is one direction-bound gate controller. Submit is not safe for
// concurrent use; one lane serves one camera feed.
type Lane struct {
	direction string
	voter     *plate.Voter
	guard     cache.EntryGuard
	store     SessionStore
	journal   Journal
	gate      Gate
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a lane for the given direction.
func New(direction string, voter *plate.Voter, guard cache.EntryGuard, sessions SessionStore, jrnl Journal, gate Gate, logger *zap.Logger) *Lane {
	return &Lane{
		direction: direction,
		voter:     voter,
		guard:     guard,
		store:     sessions,
		journal:   jrnl,
		gate:      gate,
		logger:    logger,
		now:       time.Now,
	}
}

// Direction returns the lane's configured direction.
func (l *Lane) Direction() string {
	return l.direction
}

// Submit feeds one raw recognition frame to the consensus buffer. The decision
// is nil while consensus is still building.
func (l *Lane) Submit(ctx context.Context, raw string) (*Decision, error) {
	consensus, ok := l.voter.Add(raw)
	if !ok {
		return nil, nil
	}

	l.logger.Info("consensus plate",
		zap.String("plate", consensus),
		zap.String("direction", l.direction),
	)

	if l.direction == config.DirectionExit {
		return l.handleExit(ctx, consensus)
	}
	return l.handleEntry(ctx, consensus)
}

// handleEntry admits a vehicle: journal row, open session, gate pulse. The
// cooldown guard stops the same plate being re-admitted while it sits in
// camera view; the guard is released again whenever no entry happened.
func (l *Lane) handleEntry(ctx context.Context, plateNumber string) (*Decision, error) {
	acquired, err := l.guard.Acquire(ctx, plateNumber)
	if err != nil {
		return nil, err
	}
	if !acquired {
		l.logger.Info("entry suppressed by cooldown", zap.String("plate", plateNumber))
		return &Decision{Plate: plateNumber, Action: ActionEntryCooldown}, nil
	}

	if _, err := l.store.FindOpen(ctx, plateNumber); err == nil {
		l.releaseGuard(plateNumber)
		l.logger.Warn("entry refused, vehicle already inside", zap.String("plate", plateNumber))
		return &Decision{Plate: plateNumber, Action: ActionEntryAlreadyInside}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		l.releaseGuard(plateNumber)
		return nil, err
	}

	// entry_time keys the journal-store join; the journal stores whole
	// seconds, so the canonical key is second precision.
	entryTime := l.now().Truncate(time.Second)
	if err := l.journal.Append(journal.Record{Plate: plateNumber, EntryTime: entryTime}); err != nil {
		l.releaseGuard(plateNumber)
		return nil, err
	}

	if _, err := l.store.Open(ctx, plateNumber, entryTime); err != nil {
		if errors.Is(err, store.ErrDuplicateOpenSession) {
			// Lost the race to a concurrent admit. The journal row it
			// left behind is merged by the reconciler.
			l.releaseGuard(plateNumber)
			l.logger.Warn("entry refused, concurrent open session", zap.String("plate", plateNumber))
			return &Decision{Plate: plateNumber, Action: ActionEntryAlreadyInside}, nil
		}
		// The journal row stands; the reconciler replays it into the
		// store once it is reachable again.
		l.logger.Error("session insert failed, journal row will be reconciled",
			zap.String("plate", plateNumber),
			zap.Error(err),
		)
	}

	if err := l.gate.PulseGate(ctx); err != nil {
		l.logger.Error("gate pulse failed", zap.String("plate", plateNumber), zap.Error(err))
	}
	return &Decision{Plate: plateNumber, Action: ActionEntryOpened}, nil
}

// handleExit releases a vehicle when its latest journal row is paid, and
// records and alarms an unauthorized exit otherwise. A vehicle with no journal
// history never opens the gate.
func (l *Lane) handleExit(ctx context.Context, plateNumber string) (*Decision, error) {
	latest, err := l.journal.LatestByPlate(plateNumber)
	if errors.Is(err, journal.ErrNoRecord) {
		l.logger.Warn("exit attempt by unknown vehicle", zap.String("plate", plateNumber))
		if err := l.gate.Alarm(); err != nil {
			l.logger.Error("alarm failed", zap.Error(err))
		}
		return &Decision{Plate: plateNumber, Action: ActionExitUnknownVehicle}, nil
	}
	if err != nil {
		return nil, err
	}

	exitTime := l.now()
	if latest.Paid {
		l.closeOpenSession(ctx, plateNumber, exitTime, true)
		if err := l.gate.PulseGate(ctx); err != nil {
			l.logger.Error("gate pulse failed", zap.String("plate", plateNumber), zap.Error(err))
		}
		return &Decision{Plate: plateNumber, Action: ActionExitAuthorized}, nil
	}

	l.logger.Warn("unauthorized exit", zap.String("plate", plateNumber))
	l.closeOpenSession(ctx, plateNumber, exitTime, false)
	if err := l.gate.Alarm(); err != nil {
		l.logger.Error("alarm failed", zap.Error(err))
	}
	return &Decision{Plate: plateNumber, Action: ActionExitUnauthorized}, nil
}

// closeOpenSession stamps the exit on the open session if one exists. A
// missing session is logged, not fatal: the gate decision already stands and
// the reconciler keeps the records converging.
func (l *Lane) closeOpenSession(ctx context.Context, plateNumber string, exitTime time.Time, authorized bool) {
	open, err := l.store.FindOpen(ctx, plateNumber)
	if errors.Is(err, store.ErrNotFound) {
		l.logger.Warn("no open session to close", zap.String("plate", plateNumber))
		return
	}
	if err != nil {
		l.logger.Error("open-session lookup failed", zap.String("plate", plateNumber), zap.Error(err))
		return
	}
	if err := l.store.Close(ctx, open.ID, exitTime, authorized); err != nil {
		l.logger.Error("session close failed",
			zap.String("plate", plateNumber),
			zap.Int64("session_id", open.ID),
			zap.Error(err),
		)
	}
}

func (l *Lane) releaseGuard(plateNumber string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.guard.Release(ctx, plateNumber); err != nil {
		l.logger.Error("cooldown release failed", zap.String("plate", plateNumber), zap.Error(err))
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parkgate/internal/models"
)

// SessionStore handles persistence of parking sessions.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore returns the repository.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, plate_number, entry_time, exit_time, payment_status, payment_amount, payment_time, is_unauthorized_exit, created_at, updated_at`

// Open creates a new open session for the plate. Returns
// ErrDuplicateOpenSession when the plate already has one; the check and the
// insert share a transaction so the one-open-session invariant holds.
func (s *SessionStore) Open(ctx context.Context, plateNumber string, entryTime time.Time) (*models.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE plate_number = $1 AND exit_time IS NULL LIMIT 1`,
		plateNumber,
	).Scan(&existing)
	switch {
	case err == nil:
		return nil, ErrDuplicateOpenSession
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	session := &models.Session{
		PlateNumber:   plateNumber,
		EntryTime:     entryTime,
		PaymentStatus: models.StatusUnpaid,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sessions (plate_number, entry_time, payment_status, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, plateNumber, entryTime).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return session, nil
}

// FindOpen returns the most recent open session for the plate, or ErrNotFound.
func (s *SessionStore) FindOpen(ctx context.Context, plateNumber string) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE plate_number = $1 AND exit_time IS NULL
		ORDER BY entry_time DESC
		LIMIT 1
	`, sessionColumns)
	session, err := scanSession(s.db.QueryRowContext(ctx, query, plateNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

// FindByPlateAndEntryTime returns the session matching the journal key, or
// ErrNotFound. The reconciler merges journal rows through this lookup.
func (s *SessionStore) FindByPlateAndEntryTime(ctx context.Context, plateNumber string, entryTime time.Time) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE plate_number = $1 AND entry_time = $2
		LIMIT 1
	`, sessionColumns)
	session, err := scanSession(s.db.QueryRowContext(ctx, query, plateNumber, entryTime))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

// Close stamps the exit. Idempotent: closing a closed session reports
// ErrAlreadyClosed without mutating anything.
func (s *SessionStore) Close(ctx context.Context, id int64, exitTime time.Time, authorized bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET exit_time = $2,
		    is_unauthorized_exit = $3,
		    updated_at = NOW()
		WHERE id = $1 AND exit_time IS NULL
	`, id, exitTime, !authorized)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM sessions WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAlreadyClosed
}

// SettlePayment marks one session paid. Fails with ErrInvalidState when the
// session is already paid, ErrNotFound when it does not exist.
func (s *SessionStore) SettlePayment(ctx context.Context, id int64, amount int64, paymentTime time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET payment_status = 1,
		    payment_amount = $2,
		    payment_time = $3,
		    exit_time = COALESCE(exit_time, $3),
		    updated_at = NOW()
		WHERE id = $1 AND payment_status = 0
	`, id, amount, paymentTime)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var status int
	err = s.db.QueryRowContext(ctx, `SELECT payment_status FROM sessions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrInvalidState
}

// SettlementItem is one journal row in a settlement batch.
type SettlementItem struct {
	EntryTime time.Time
	Amount    int64
}

// SettleBatch marks every item paid in one database transaction: either the
// whole batch commits or none of it does. Rows the store has not yet seen
// (journal ahead of store) are inserted already settled; a row that is already
// paid aborts the batch with ErrInvalidState.
func (s *SessionStore) SettleBatch(ctx context.Context, plateNumber string, items []SettlementItem, paymentTime time.Time) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, item := range items {
		result, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET payment_status = 1,
			    payment_amount = $3,
			    payment_time = $4,
			    exit_time = COALESCE(exit_time, $4),
			    updated_at = NOW()
			WHERE plate_number = $1 AND entry_time = $2 AND payment_status = 0
		`, plateNumber, item.EntryTime, item.Amount, paymentTime)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected > 0 {
			continue
		}

		var status int
		err = tx.QueryRowContext(ctx,
			`SELECT payment_status FROM sessions WHERE plate_number = $1 AND entry_time = $2 LIMIT 1`,
			plateNumber, item.EntryTime,
		).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sessions (plate_number, entry_time, exit_time, payment_status, payment_amount, payment_time, created_at, updated_at)
				VALUES ($1, $2, $3, 1, $4, $3, NOW(), NOW())
			`, plateNumber, item.EntryTime, paymentTime, item.Amount)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			return ErrInvalidState
		}
	}

	return tx.Commit()
}

// InsertFromJournal inserts a session the relational store is missing, carrying
// the journal row's payment state. Used only by the reconciler.
func (s *SessionStore) InsertFromJournal(ctx context.Context, plateNumber string, entryTime time.Time, paid bool, amount int64, paymentTime time.Time) error {
	if paid {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (plate_number, entry_time, exit_time, payment_status, payment_amount, payment_time, created_at, updated_at)
			VALUES ($1, $2, $3, 1, $4, $3, NOW(), NOW())
		`, plateNumber, entryTime, paymentTime, amount)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (plate_number, entry_time, payment_status, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
	`, plateNumber, entryTime)
	return err
}

// RecentSessions returns the latest sessions for the dashboard feed.
func (s *SessionStore) RecentSessions(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		ORDER BY entry_time DESC
		LIMIT $1
	`, sessionColumns)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// DayStats aggregates raw session rows for one calendar date. The revenue sum
// counts paid amounts of sessions whose entry date matches.
func (s *SessionStore) DayStats(ctx context.Context, date string) (models.DailyAggregate, error) {
	agg := models.DailyAggregate{Date: date}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN exit_time IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN payment_status = 1 THEN payment_amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_unauthorized_exit THEN 1 ELSE 0 END), 0)
		FROM sessions
		WHERE entry_time::date = $1::date
	`, date).Scan(&agg.TotalEntries, &agg.TotalExits, &agg.TotalRevenue, &agg.UnauthorizedExits)
	if err != nil {
		return models.DailyAggregate{}, err
	}
	return agg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session     models.Session
		exitTime    sql.NullTime
		paymentAmt  sql.NullInt64
		paymentTime sql.NullTime
	)
	err := row.Scan(
		&session.ID,
		&session.PlateNumber,
		&session.EntryTime,
		&exitTime,
		&session.PaymentStatus,
		&paymentAmt,
		&paymentTime,
		&session.UnauthorizedExit,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if exitTime.Valid {
		session.ExitTime = &exitTime.Time
	}
	if paymentAmt.Valid {
		session.PaymentAmount = &paymentAmt.Int64
	}
	if paymentTime.Valid {
		session.PaymentTime = &paymentTime.Time
	}
	return &session, nil
}

func collectSessions(rows *sql.Rows) ([]models.Session, error) {
	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

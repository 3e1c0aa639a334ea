package store

import (
	"context"
	"database/sql"
	"errors"

	"parkgate/internal/models"
)

// OperatorStore handles dashboard login accounts.
type OperatorStore struct {
	db *sql.DB
}

// NewOperatorStore returns the repository.
func NewOperatorStore(db *sql.DB) *OperatorStore {
	return &OperatorStore{db: db}
}

// FindByUsername returns the operator or ErrNotFound.
func (s *OperatorStore) FindByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var op models.Operator
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM operators
		WHERE username = $1
	`, username).Scan(&op.ID, &op.Username, &op.PasswordHash, &op.Role, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// EnsureAdmin seeds the admin account on first start; an existing account is
// left untouched.
func (s *OperatorStore) EnsureAdmin(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (username, password_hash, role)
		VALUES ($1, $2, 'admin')
		ON CONFLICT (username) DO NOTHING
	`, username, passwordHash)
	return err
}

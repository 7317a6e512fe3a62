package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"annotation-orchestrator/core/models"
)

// ErrProfileNotFound is returned when a user has no profile row
var ErrProfileNotFound = errors.New("user profile not found")

// ProfileRepository reads and updates user subscription roles
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	UpdateRole(ctx context.Context, userID string, role models.Role) error
}

// PostgresProfileRepository reads profiles from the accounts database
type PostgresProfileRepository struct {
	db *DB
}

// NewPostgresProfileRepository creates a new profile repository
func NewPostgresProfileRepository(db *DB) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

// GetProfile retrieves a profile by user id
func (r *PostgresProfileRepository) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	query := `
		SELECT id, name, email, role
		FROM profiles
		WHERE id = $1
	`

	var profile models.UserProfile
	var name sql.NullString
	var email sql.NullString

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.ID,
		&name,
		&email,
		&profile.Role,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}

	if name.Valid {
		profile.Name = name.String
	}
	if email.Valid {
		profile.Email = email.String
	}

	return &profile, nil
}

// UpdateRole changes a user's subscription role
func (r *PostgresProfileRepository) UpdateRole(ctx context.Context, userID string, role models.Role) error {
	query := `UPDATE profiles SET role = $1, updated_at = NOW() WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, role, userID)
	if err != nil {
		return fmt.Errorf("update role for %s: %w", userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	return nil
}

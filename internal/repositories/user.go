package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/universal/internal/models"
	"github.com/jmoiron/sqlx"
)

// UserRepository persists [models.User].
type UserRepository struct {
	q sqlx.ExtContext
}

// NewUserRepository creates a new [UserRepository] bound to q
func NewUserRepository(q sqlx.ExtContext) *UserRepository {
	return &UserRepository{q: q}
}

// Create inserts user and fills in its id and timestamps.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO users (username, email) VALUES (?, ?)`, user.Username, user.Email)
	if err != nil {
		return integrity(err, "failed to insert user %q", user.Username)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}

	created, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	*user = *created
	return nil
}

// Get retrieves a user by id.
func (r *UserRepository) Get(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, r.q, &user, `SELECT * FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &user, nil
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, r.q, &user, `SELECT * FROM users WHERE username = ?`, username)
	if err != nil {
		return nil, notFound(err, "user %q", username)
	}
	return &user, nil
}

// List returns all users ordered by id.
func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := sqlx.SelectContext(ctx, r.q, &users, `SELECT * FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return users, nil
}

package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/universal/internal/models"
	"github.com/jmoiron/sqlx"
)

// ServiceRepository persists [models.ServiceAccount] credential rows.
//
// Rows are never deleted while the user exists; clearing a credential sets it to NULL.
type ServiceRepository struct {
	q sqlx.ExtContext
}

// NewServiceRepository creates a new [ServiceRepository] bound to q
func NewServiceRepository(q sqlx.ExtContext) *ServiceRepository {
	return &ServiceRepository{q: q}
}

// Ensure creates the (user, provider) row when missing and returns it.
func (r *ServiceRepository) Ensure(ctx context.Context, userID int64, provider string) (*models.ServiceAccount, error) {
	acct := &models.ServiceAccount{UserID: userID, Provider: provider}
	if err := acct.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO services (user_id, provider) VALUES (?, ?) ON CONFLICT (user_id, provider) DO NOTHING`,
		userID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to provision %s service for user %d: %w", provider, userID, err)
	}
	return r.Get(ctx, userID, provider)
}

// Get returns the credential row for (user, provider).
func (r *ServiceRepository) Get(ctx context.Context, userID int64, provider string) (*models.ServiceAccount, error) {
	var acct models.ServiceAccount
	err := sqlx.GetContext(ctx, r.q, &acct, `SELECT * FROM services WHERE user_id = ? AND provider = ?`, userID, provider)
	if err != nil {
		return nil, notFound(err, "%s service for user %d", provider, userID)
	}
	return &acct, nil
}

// GetByState finds the row holding a pending OAuth state.
func (r *ServiceRepository) GetByState(ctx context.Context, provider, state string) (*models.ServiceAccount, error) {
	var acct models.ServiceAccount
	err := sqlx.GetContext(ctx, r.q, &acct, `SELECT * FROM services WHERE provider = ? AND oauth_state = ?`, provider, state)
	if err != nil {
		return nil, notFound(err, "pending %s authorization", provider)
	}
	return &acct, nil
}

// ListForUser returns every credential row of a user ordered by provider.
func (r *ServiceRepository) ListForUser(ctx context.Context, userID int64) ([]models.ServiceAccount, error) {
	var accts []models.ServiceAccount
	err := sqlx.SelectContext(ctx, r.q, &accts, `SELECT * FROM services WHERE user_id = ? ORDER BY provider`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	return accts, nil
}

// SaveCredential stores a serialized token, and the provider username when non-empty.
func (r *ServiceRepository) SaveCredential(ctx context.Context, id int64, credential, username string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE services
		SET credential = ?, username = CASE WHEN ? = '' THEN username ELSE ? END, updated_at = ?
		WHERE id = ?`, credential, username, username, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return mustAffect(res, "service %d", id)
}

// ClearCredential forgets the stored token.
func (r *ServiceRepository) ClearCredential(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `UPDATE services SET credential = NULL, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return mustAffect(res, "service %d", id)
}

// SetState records a pending authorization state issued at the given time.
func (r *ServiceRepository) SetState(ctx context.Context, id int64, state string, issuedAt time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE services SET oauth_state = ?, state_issued_at = ?, updated_at = ? WHERE id = ?`,
		state, issuedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}
	return mustAffect(res, "service %d", id)
}

// ClearState consumes the pending authorization state.
func (r *ServiceRepository) ClearState(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `UPDATE services SET oauth_state = NULL, state_issued_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear oauth state: %w", err)
	}
	return nil
}

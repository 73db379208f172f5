package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/campus-billing/internal/persistence"
)

// BindingRepository implements persistence.BindingRepository using SQLite.
type BindingRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewBindingRepository creates a new SQLite binding repository.
func NewBindingRepository(pool *ConnectionPool) *BindingRepository {
	return &BindingRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// UpsertBinding stores or replaces the binding for a user.
func (r *BindingRepository) UpsertBinding(ctx context.Context, binding persistence.Binding) error {
	binding.UserID = strings.TrimSpace(binding.UserID)
	binding.AccountID = strings.TrimSpace(binding.AccountID)
	if binding.UserID == "" || binding.AccountID == "" || binding.SealedPassword == "" {
		return persistence.ErrConstraintViolation
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO bindings (user_id, account_id, sealed_password, variant, room_label, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			account_id = excluded.account_id,
			sealed_password = excluded.sealed_password,
			variant = excluded.variant,
			room_label = excluded.room_label,
			updated_at = excluded.updated_at
	`
	_, err := r.helper.Exec(ctx, query,
		binding.UserID,
		binding.AccountID,
		binding.SealedPassword,
		binding.Variant,
		binding.RoomLabel,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// GetBinding retrieves the binding for a user.
func (r *BindingRepository) GetBinding(ctx context.Context, userID string) (persistence.Binding, error) {
	query := `
		SELECT user_id, account_id, sealed_password, variant, room_label, created_at, updated_at
		FROM bindings
		WHERE user_id = ?
	`
	return r.scanBindingRow(r.helper.QueryRow(ctx, query, strings.TrimSpace(userID)))
}

// ListBindings returns all bindings ordered by creation time.
func (r *BindingRepository) ListBindings(ctx context.Context) ([]persistence.Binding, error) {
	query := `
		SELECT user_id, account_id, sealed_password, variant, room_label, created_at, updated_at
		FROM bindings
		ORDER BY created_at, user_id
	`
	rows, err := r.helper.Query(ctx, query)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var bindings []persistence.Binding
	for rows.Next() {
		binding, err := r.scanBindingRow(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, binding)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return bindings, nil
}

// DeleteBinding removes the binding for a user.
func (r *BindingRepository) DeleteBinding(ctx context.Context, userID string) error {
	result, err := r.helper.Exec(ctx, `DELETE FROM bindings WHERE user_id = ?`, strings.TrimSpace(userID))
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *BindingRepository) scanBindingRow(scanner rowScanner) (persistence.Binding, error) {
	var binding persistence.Binding
	var createdAtStr, updatedAtStr string

	err := scanner.Scan(
		&binding.UserID,
		&binding.AccountID,
		&binding.SealedPassword,
		&binding.Variant,
		&binding.RoomLabel,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Binding{}, persistence.ErrNotFound
		}
		return persistence.Binding{}, r.mapper.MapError(err)
	}

	if binding.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return persistence.Binding{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if binding.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return persistence.Binding{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return binding, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/campus-billing/internal/persistence"
	"github.com/shopspring/decimal"
)

// RuleRepository implements persistence.RuleRepository using SQLite.
type RuleRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewRuleRepository creates a new SQLite rule repository.
func NewRuleRepository(pool *ConnectionPool) *RuleRepository {
	return &RuleRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// UpsertRule stores or replaces a notification rule.
func (r *RuleRepository) UpsertRule(ctx context.Context, rule persistence.Rule) error {
	rule.UserID = strings.TrimSpace(rule.UserID)
	rule.ChatScope = strings.TrimSpace(rule.ChatScope)
	if rule.ID == "" || rule.UserID == "" || rule.ChatScope == "" {
		return persistence.ErrConstraintViolation
	}
	if rule.HourOfDay < 0 || rule.HourOfDay > 23 {
		return persistence.ErrConstraintViolation
	}

	var threshold sql.NullString
	if rule.Threshold != nil {
		threshold.String = rule.Threshold.String()
		threshold.Valid = true
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO rules (id, user_id, chat_scope, hour_of_day, threshold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			chat_scope = excluded.chat_scope,
			hour_of_day = excluded.hour_of_day,
			threshold = excluded.threshold,
			updated_at = excluded.updated_at
	`
	_, err := r.helper.Exec(ctx, query,
		rule.ID,
		rule.UserID,
		rule.ChatScope,
		rule.HourOfDay,
		threshold,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// ListRules returns all rules for a user ordered by hour.
func (r *RuleRepository) ListRules(ctx context.Context, userID string) ([]persistence.Rule, error) {
	query := `
		SELECT id, user_id, chat_scope, hour_of_day, threshold, created_at, updated_at
		FROM rules
		WHERE user_id = ?
		ORDER BY hour_of_day, id
	`
	return r.queryRules(ctx, query, strings.TrimSpace(userID))
}

// DueRules returns the rules for a user that fire at the given hour.
func (r *RuleRepository) DueRules(ctx context.Context, userID string, hour int) ([]persistence.Rule, error) {
	query := `
		SELECT id, user_id, chat_scope, hour_of_day, threshold, created_at, updated_at
		FROM rules
		WHERE user_id = ? AND hour_of_day = ?
		ORDER BY id
	`
	return r.queryRules(ctx, query, strings.TrimSpace(userID), hour)
}

// DeleteRule removes a rule by ID.
func (r *RuleRepository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.helper.Exec(ctx, `DELETE FROM rules WHERE id = ?`, id)
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

func (r *RuleRepository) queryRules(ctx context.Context, query string, args ...any) ([]persistence.Rule, error) {
	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var rules []persistence.Rule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return rules, nil
}

func (r *RuleRepository) scanRule(scanner rowScanner) (persistence.Rule, error) {
	var rule persistence.Rule
	var threshold sql.NullString
	var createdAtStr, updatedAtStr string

	err := scanner.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.ChatScope,
		&rule.HourOfDay,
		&threshold,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Rule{}, persistence.ErrNotFound
		}
		return persistence.Rule{}, r.mapper.MapError(err)
	}

	if threshold.Valid {
		value, err := decimal.NewFromString(threshold.String)
		if err != nil {
			return persistence.Rule{}, fmt.Errorf("failed to parse threshold: %w", err)
		}
		rule.Threshold = &value
	}
	if rule.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return persistence.Rule{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rule.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return persistence.Rule{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return rule, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/campus-billing/internal/persistence"
)

// expiryMargin keeps a token that might expire mid-flight out of callers'
// hands: anything closer than this to its expiry reads as absent.
const expiryMargin = 5 * time.Minute

// TokenRepository implements the per-user session token cache on SQLite.
type TokenRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
	now    func() time.Time
}

// NewTokenRepository creates a new SQLite token repository.
func NewTokenRepository(pool *ConnectionPool, now func() time.Time) *TokenRepository {
	if now == nil {
		now = time.Now
	}
	return &TokenRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		now:    now,
	}
}

// GetToken returns the cached session for a user. A record that is missing
// or expires within the safety margin reads as persistence.ErrNotFound.
func (r *TokenRepository) GetToken(ctx context.Context, userID string) (persistence.SessionToken, error) {
	query := `
		SELECT user_id, bearer_token, cookie_a, cookie_b, issued_at, expires_at
		FROM session_tokens
		WHERE user_id = ?
	`
	var token persistence.SessionToken
	var issuedAtStr, expiresAtStr string

	err := r.helper.QueryRow(ctx, query, strings.TrimSpace(userID)).Scan(
		&token.UserID,
		&token.BearerToken,
		&token.CookieA,
		&token.CookieB,
		&issuedAtStr,
		&expiresAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.SessionToken{}, persistence.ErrNotFound
		}
		return persistence.SessionToken{}, r.mapper.MapError(err)
	}

	if token.IssuedAt, err = time.Parse(time.RFC3339, issuedAtStr); err != nil {
		return persistence.SessionToken{}, fmt.Errorf("failed to parse issued_at: %w", err)
	}
	if token.ExpiresAt, err = time.Parse(time.RFC3339, expiresAtStr); err != nil {
		return persistence.SessionToken{}, fmt.Errorf("failed to parse expires_at: %w", err)
	}

	if token.ExpiresAt.Sub(r.now()) < expiryMargin {
		return persistence.SessionToken{}, persistence.ErrNotFound
	}
	return token, nil
}

// PutToken overwrites the cached session for a user unconditionally, which
// is what keeps at most one live token per user.
func (r *TokenRepository) PutToken(ctx context.Context, token persistence.SessionToken) error {
	token.UserID = strings.TrimSpace(token.UserID)
	if token.UserID == "" || token.BearerToken == "" {
		return persistence.ErrConstraintViolation
	}

	query := `
		INSERT INTO session_tokens (user_id, bearer_token, cookie_a, cookie_b, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			bearer_token = excluded.bearer_token,
			cookie_a = excluded.cookie_a,
			cookie_b = excluded.cookie_b,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at
	`
	_, err := r.helper.Exec(ctx, query,
		token.UserID,
		token.BearerToken,
		token.CookieA,
		token.CookieB,
		token.IssuedAt.UTC().Format(time.RFC3339),
		token.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// InvalidateToken clears the cached session for a user. Clearing an absent
// record is a no-op; invalidation covers server-side revocation the cache
// cannot otherwise detect, so it must always succeed.
func (r *TokenRepository) InvalidateToken(ctx context.Context, userID string) error {
	_, err := r.helper.Exec(ctx, `DELETE FROM session_tokens WHERE user_id = ?`, strings.TrimSpace(userID))
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

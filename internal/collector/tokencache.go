package collector

import (
	"context"
	"errors"

	"github.com/example/campus-billing/internal/campus"
	"github.com/example/campus-billing/internal/persistence"
)

// TokenCache is the narrow interface the core reads and writes sessions
// through. Get reports absence instead of returning expiring tokens; the
// backing repository applies the safety margin.
type TokenCache interface {
	Get(ctx context.Context, userID string) (campus.Session, bool, error)
	Put(ctx context.Context, userID string, session campus.Session) error
	Invalidate(ctx context.Context, userID string) error
}

type persistentTokenCache struct {
	tokens persistence.TokenRepository
}

// NewTokenCache adapts a persistence token repository to the cache contract.
func NewTokenCache(tokens persistence.TokenRepository) TokenCache {
	return &persistentTokenCache{tokens: tokens}
}

func (c *persistentTokenCache) Get(ctx context.Context, userID string) (campus.Session, bool, error) {
	stored, err := c.tokens.GetToken(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return campus.Session{}, false, nil
		}
		return campus.Session{}, false, err
	}
	return campus.Session{
		BearerToken: stored.BearerToken,
		CookieA:     stored.CookieA,
		CookieB:     stored.CookieB,
		IssuedAt:    stored.IssuedAt,
		ExpiresAt:   stored.ExpiresAt,
	}, true, nil
}

func (c *persistentTokenCache) Put(ctx context.Context, userID string, session campus.Session) error {
	return c.tokens.PutToken(ctx, persistence.SessionToken{
		UserID:      userID,
		BearerToken: session.BearerToken,
		CookieA:     session.CookieA,
		CookieB:     session.CookieB,
		IssuedAt:    session.IssuedAt,
		ExpiresAt:   session.ExpiresAt,
	})
}

func (c *persistentTokenCache) Invalidate(ctx context.Context, userID string) error {
	return c.tokens.InvalidateToken(ctx, userID)
}

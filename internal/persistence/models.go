package persistence

import (
	"time"

	"github.com/shopspring/decimal"
)

// Binding maps a chat user to one campus account. The password is sealed by
// the credential store before it ever reaches this layer.
type Binding struct {
	UserID         string
	AccountID      string
	SealedPassword string
	Variant        string
	RoomLabel      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Snapshot is one persisted reading of the tracked balances. Rows are
// append-only; nothing updates a snapshot after it is written.
type Snapshot struct {
	ID         string
	UserID     string
	Electric   decimal.Decimal
	Water      decimal.Decimal
	AC         decimal.Decimal
	RoomLabel  string
	ObservedAt time.Time
}

// Rule describes one scheduled notification. Threshold, when present,
// restricts the rule to fire only while the electric balance is below it.
type Rule struct {
	ID        string
	UserID    string
	ChatScope string
	HourOfDay int
	Threshold *decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionToken is a cached campus session keyed by user.
type SessionToken struct {
	UserID      string
	BearerToken string
	CookieA     string
	CookieB     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

package persistence

import (
	"context"
	"time"
)

// BindingRepository stores chat-user to campus-account bindings.
type BindingRepository interface {
	UpsertBinding(ctx context.Context, binding Binding) error
	GetBinding(ctx context.Context, userID string) (Binding, error)
	ListBindings(ctx context.Context) ([]Binding, error)
	DeleteBinding(ctx context.Context, userID string) error
}

// SnapshotRepository appends to and reads the balance time series.
type SnapshotRepository interface {
	AppendSnapshot(ctx context.Context, snapshot Snapshot) error
	ListSnapshots(ctx context.Context, userID string, from, to time.Time) ([]Snapshot, error)
	LatestSnapshot(ctx context.Context, userID string) (Snapshot, error)
}

// RuleRepository stores notification rules.
type RuleRepository interface {
	UpsertRule(ctx context.Context, rule Rule) error
	ListRules(ctx context.Context, userID string) ([]Rule, error)
	DueRules(ctx context.Context, userID string, hour int) ([]Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

// TokenRepository is the per-user session token cache. GetToken treats a
// token expiring within the safety margin as absent so a session is never
// handed out that might expire mid-flight. InvalidateToken is idempotent.
type TokenRepository interface {
	GetToken(ctx context.Context, userID string) (SessionToken, error)
	PutToken(ctx context.Context, token SessionToken) error
	InvalidateToken(ctx context.Context, userID string) error
}

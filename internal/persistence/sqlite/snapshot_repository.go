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

// SnapshotRepository implements persistence.SnapshotRepository using SQLite.
// Amounts are stored as decimal text to keep them exact.
type SnapshotRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewSnapshotRepository creates a new SQLite snapshot repository.
func NewSnapshotRepository(pool *ConnectionPool) *SnapshotRepository {
	return &SnapshotRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// AppendSnapshot inserts one reading into the time series.
func (r *SnapshotRepository) AppendSnapshot(ctx context.Context, snapshot persistence.Snapshot) error {
	if snapshot.ID == "" || strings.TrimSpace(snapshot.UserID) == "" {
		return persistence.ErrConstraintViolation
	}

	query := `
		INSERT INTO snapshots (id, user_id, electric, water, ac, room_label, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.helper.Exec(ctx, query,
		snapshot.ID,
		strings.TrimSpace(snapshot.UserID),
		snapshot.Electric.String(),
		snapshot.Water.String(),
		snapshot.AC.String(),
		snapshot.RoomLabel,
		snapshot.ObservedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// ListSnapshots returns the readings for a user inside [from, to), oldest
// first.
func (r *SnapshotRepository) ListSnapshots(ctx context.Context, userID string, from, to time.Time) ([]persistence.Snapshot, error) {
	query := `
		SELECT id, user_id, electric, water, ac, room_label, observed_at
		FROM snapshots
		WHERE user_id = ? AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at
	`
	rows, err := r.helper.Query(ctx, query,
		strings.TrimSpace(userID),
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var snapshots []persistence.Snapshot
	for rows.Next() {
		snapshot, err := r.scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return snapshots, nil
}

// LatestSnapshot returns the most recent reading for a user.
func (r *SnapshotRepository) LatestSnapshot(ctx context.Context, userID string) (persistence.Snapshot, error) {
	query := `
		SELECT id, user_id, electric, water, ac, room_label, observed_at
		FROM snapshots
		WHERE user_id = ?
		ORDER BY observed_at DESC
		LIMIT 1
	`
	return r.scanSnapshot(r.helper.QueryRow(ctx, query, strings.TrimSpace(userID)))
}

func (r *SnapshotRepository) scanSnapshot(scanner rowScanner) (persistence.Snapshot, error) {
	var snapshot persistence.Snapshot
	var electricStr, waterStr, acStr, observedAtStr string

	err := scanner.Scan(
		&snapshot.ID,
		&snapshot.UserID,
		&electricStr,
		&waterStr,
		&acStr,
		&snapshot.RoomLabel,
		&observedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Snapshot{}, persistence.ErrNotFound
		}
		return persistence.Snapshot{}, r.mapper.MapError(err)
	}

	if snapshot.Electric, err = decimal.NewFromString(electricStr); err != nil {
		return persistence.Snapshot{}, fmt.Errorf("failed to parse electric: %w", err)
	}
	if snapshot.Water, err = decimal.NewFromString(waterStr); err != nil {
		return persistence.Snapshot{}, fmt.Errorf("failed to parse water: %w", err)
	}
	if snapshot.AC, err = decimal.NewFromString(acStr); err != nil {
		return persistence.Snapshot{}, fmt.Errorf("failed to parse ac: %w", err)
	}
	if snapshot.ObservedAt, err = time.Parse(time.RFC3339, observedAtStr); err != nil {
		return persistence.Snapshot{}, fmt.Errorf("failed to parse observed_at: %w", err)
	}
	return snapshot, nil
}

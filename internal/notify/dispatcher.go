package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/campus-billing/internal/campus"
	"github.com/example/campus-billing/internal/collector"
	"github.com/example/campus-billing/internal/persistence"
)

// Transport delivers a rendered message to a chat scope. Implementations
// wrap the external chat platform.
type Transport interface {
	Send(ctx context.Context, chatScope string, text string) error
}

// RuleSource returns the notification rules due for a user at an hour.
type RuleSource interface {
	DueRules(ctx context.Context, userID string, hour int) ([]persistence.Rule, error)
}

// Dispatcher evaluates due rules over a cycle's results and pushes messages.
// Only accounts that collected successfully are ever considered.
type Dispatcher struct {
	rules     RuleSource
	transport Transport
	now       func() time.Time
	logger    *slog.Logger

	// sentCache suppresses duplicate sends when a cycle is re-run inside
	// the same hour (manual trigger after a partial outage).
	mu        sync.Mutex
	sentCache map[string]time.Time
}

// NewDispatcher wires the notification dispatcher.
func NewDispatcher(rules RuleSource, transport Transport, now func() time.Time, logger *slog.Logger) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		rules:     rules,
		transport: transport,
		now:       now,
		logger:    logger,
		sentCache: make(map[string]time.Time),
	}
}

// Dispatch runs the notification phase for one finished cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, results []collector.Result, hour int) {
	logger := d.logger.With("service", "Dispatcher", "hour", hour)

	for _, result := range results {
		if !result.Succeeded || result.Snapshot == nil {
			continue
		}

		rules, err := d.rules.DueRules(ctx, result.UserID, hour)
		if err != nil {
			logger.ErrorContext(ctx, "failed to load due rules", "user_id", result.UserID, "error", err)
			continue
		}

		for _, rule := range rules {
			if !d.shouldFire(rule, *result.Snapshot, hour) {
				continue
			}
			text := FormatBalanceMessage(*result.Snapshot, rule.Threshold != nil)
			if err := d.transport.Send(ctx, rule.ChatScope, text); err != nil {
				logger.ErrorContext(ctx, "failed to send notification",
					"user_id", result.UserID,
					"rule_id", rule.ID,
					"error", err,
				)
				continue
			}
			d.markSent(rule.ID, hour)
			logger.InfoContext(ctx, "notification sent", "user_id", result.UserID, "rule_id", rule.ID)
		}
	}
}

// shouldFire applies the threshold condition and the per-hour dedupe.
func (d *Dispatcher) shouldFire(rule persistence.Rule, snapshot campus.Snapshot, hour int) bool {
	if rule.Threshold != nil && snapshot.Electric.GreaterThanOrEqual(*rule.Threshold) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := fmt.Sprintf("%s@%02d", rule.ID, hour)
	if sentAt, ok := d.sentCache[key]; ok && d.now().Sub(sentAt) < time.Hour {
		return false
	}
	return true
}

func (d *Dispatcher) markSent(ruleID string, hour int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, sentAt := range d.sentCache {
		if now.Sub(sentAt) >= time.Hour {
			delete(d.sentCache, key)
		}
	}
	d.sentCache[fmt.Sprintf("%s@%02d", ruleID, hour)] = now
}

// FormatBalanceMessage renders one snapshot for the chat transport. The low
// flag prepends the threshold warning line.
func FormatBalanceMessage(snapshot campus.Snapshot, low bool) string {
	header := "宿舍余额播报"
	if low {
		header = "⚠️ 余额不足提醒"
	}
	room := snapshot.RoomLabel
	if room == "" {
		room = "未知房间"
	}
	return fmt.Sprintf("%s\n房间：%s\n电费：%s 元\n水费：%s 元\n空调：%s 元\n时间：%s",
		header,
		room,
		snapshot.Electric.StringFixed(2),
		snapshot.Water.StringFixed(2),
		snapshot.AC.StringFixed(2),
		snapshot.ObservedAt.Local().Format("2006-01-02 15:04"),
	)
}

// Package bot parses and answers chat commands. Internal failure detail
// never reaches the user; only input validation gets specific corrective
// text.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/campus-billing/internal/campus"
	"github.com/example/campus-billing/internal/collector"
	"github.com/example/campus-billing/internal/notify"
	"github.com/example/campus-billing/internal/persistence"
	"github.com/example/campus-billing/internal/timewindow"
)

// User-visible replies.
const (
	replyUnknownCommand = "未知指令。可用指令：/bind /unbind /query /notify /history"
	replyBindUsage      = "用法：/bind <校区代码> <账号> <密码> [房间备注]"
	replyBadCampus      = "校区代码无效，请使用 A 或 B。"
	replyBindOK         = "绑定成功，之后每小时会自动采集余额。"
	replyNotBound       = "尚未绑定账号，请先使用 /bind。"
	replyUnbindOK       = "已解除绑定。"
	replyQueryFailed    = "查询失败，请稍后重试。"
	replyQueryStale     = "查询失败，以下是最近一次采集到的余额："
	replyNotifyUsage    = "用法：/notify <小时> [电费阈值]"
	replyBadHour        = "小时无效，请输入 0 到 23 之间的整数。"
	replyBadThreshold   = "阈值无效，请输入一个金额，例如 10 或 10.5。"
	replyBadWindow      = "时间范围无法识别，支持如 -3d、0115、2026-01-15 等写法。"
	replyNoHistory      = "该时间范围内没有采集记录。"
)

// Sealer turns plaintext passwords into storable form and bindings back
// into login material.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Credentials(binding persistence.Binding) (campus.Credentials, error)
}

// Handler answers one chat command with one reply string.
type Handler struct {
	bindings    persistence.BindingRepository
	rules       persistence.RuleRepository
	snapshots   persistence.SnapshotRepository
	sealer      Sealer
	collector   collector.Collector
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewHandler wires the command handler.
func NewHandler(bindings persistence.BindingRepository, rules persistence.RuleRepository, snapshots persistence.SnapshotRepository, sealer Sealer, coll collector.Collector, idGenerator func() string, now func() time.Time, logger *slog.Logger) *Handler {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		bindings:    bindings,
		rules:       rules,
		snapshots:   snapshots,
		sealer:      sealer,
		collector:   coll,
		idGenerator: idGenerator,
		now:         now,
		logger:      logger,
	}
}

// Handle dispatches one command line from a user and returns the reply.
func (h *Handler) Handle(ctx context.Context, userID, chatScope, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return replyUnknownCommand
	}

	command := strings.ToLower(fields[0])
	args := fields[1:]
	switch command {
	case "/bind":
		return h.bind(ctx, userID, args)
	case "/unbind":
		return h.unbind(ctx, userID)
	case "/query":
		return h.query(ctx, userID)
	case "/notify":
		return h.notify(ctx, userID, chatScope, args)
	case "/history":
		return h.history(ctx, userID, strings.Join(args, " "))
	}
	return replyUnknownCommand
}

func (h *Handler) bind(ctx context.Context, userID string, args []string) string {
	if len(args) < 3 || len(args) > 4 {
		return replyBindUsage
	}
	variant, err := campus.ParseVariant(args[0])
	if err != nil {
		return replyBadCampus
	}

	sealed, err := h.sealer.Seal(args[2])
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to seal password", "user_id", userID, "error", err)
		return replyQueryFailed
	}

	binding := persistence.Binding{
		UserID:         userID,
		AccountID:      args[1],
		SealedPassword: sealed,
		Variant:        string(variant),
	}
	// Variant A never reports a room in its responses, so the label has to
	// come from the user.
	if len(args) == 4 {
		binding.RoomLabel = args[3]
	}
	if err := h.bindings.UpsertBinding(ctx, binding); err != nil {
		h.logger.ErrorContext(ctx, "failed to store binding", "user_id", userID, "error", err)
		return replyQueryFailed
	}
	return replyBindOK
}

func (h *Handler) unbind(ctx context.Context, userID string) string {
	if err := h.bindings.DeleteBinding(ctx, userID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return replyNotBound
		}
		h.logger.ErrorContext(ctx, "failed to delete binding", "user_id", userID, "error", err)
		return replyQueryFailed
	}
	return replyUnbindOK
}

// query collects on demand. Collection failures of any class collapse into
// one generic retry-later reply, unless a previously stored reading exists
// to answer with instead.
func (h *Handler) query(ctx context.Context, userID string) string {
	binding, err := h.bindings.GetBinding(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return replyNotBound
		}
		h.logger.ErrorContext(ctx, "failed to load binding", "user_id", userID, "error", err)
		return replyQueryFailed
	}

	creds, err := h.sealer.Credentials(binding)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to unseal credentials", "user_id", userID, "error", err)
		return replyQueryFailed
	}

	snapshot, err := h.collector.Collect(ctx, userID, creds, collector.CollectOptions{Attempts: 1})
	if err != nil {
		h.logger.WarnContext(ctx, "on-demand query failed", "user_id", userID, "error", err, "error_kind", campus.ErrorKind(err))
		return h.staleQueryReply(ctx, userID)
	}
	if snapshot.RoomLabel == "" {
		snapshot.RoomLabel = binding.RoomLabel
	}
	return notify.FormatBalanceMessage(snapshot, false)
}

// staleQueryReply answers a failed live query with the last stored reading
// when one exists.
func (h *Handler) staleQueryReply(ctx context.Context, userID string) string {
	stored, err := h.snapshots.LatestSnapshot(ctx, userID)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			h.logger.ErrorContext(ctx, "failed to load latest snapshot", "user_id", userID, "error", err)
		}
		return replyQueryFailed
	}
	snapshot := campus.Snapshot{
		Electric:   stored.Electric,
		Water:      stored.Water,
		AC:         stored.AC,
		RoomLabel:  stored.RoomLabel,
		ObservedAt: stored.ObservedAt,
	}
	return replyQueryStale + "\n" + notify.FormatBalanceMessage(snapshot, false)
}

func (h *Handler) notify(ctx context.Context, userID, chatScope string, args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return replyNotifyUsage
	}
	hour, err := strconv.Atoi(args[0])
	if err != nil || hour < 0 || hour > 23 {
		return replyBadHour
	}

	var threshold *decimal.Decimal
	if len(args) == 2 {
		value, err := decimal.NewFromString(args[1])
		if err != nil || value.IsNegative() {
			return replyBadThreshold
		}
		threshold = &value
	}

	rule := persistence.Rule{
		ID:        h.idGenerator(),
		UserID:    userID,
		ChatScope: chatScope,
		HourOfDay: hour,
		Threshold: threshold,
	}
	if err := h.rules.UpsertRule(ctx, rule); err != nil {
		h.logger.ErrorContext(ctx, "failed to store rule", "user_id", userID, "error", err)
		return replyQueryFailed
	}
	if threshold != nil {
		return fmt.Sprintf("已设置每日 %02d 点推送，电费低于 %s 元时提醒。", hour, threshold.StringFixed(2))
	}
	return fmt.Sprintf("已设置每日 %02d 点推送。", hour)
}

func (h *Handler) history(ctx context.Context, userID, expression string) string {
	window, err := timewindow.Parse(expression, h.now())
	if err != nil {
		return replyBadWindow
	}

	snapshots, err := h.snapshots.ListSnapshots(ctx, userID, window.From, window.To)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list snapshots", "user_id", userID, "error", err)
		return replyQueryFailed
	}
	if len(snapshots) == 0 {
		return replyNoHistory
	}

	var out strings.Builder
	fmt.Fprintf(&out, "采集记录（%s ~ %s）\n",
		window.From.Local().Format("01-02 15:04"),
		window.To.Local().Format("01-02 15:04"),
	)
	for _, snapshot := range snapshots {
		fmt.Fprintf(&out, "%s 电 %s 水 %s 空调 %s\n",
			snapshot.ObservedAt.Local().Format("01-02 15:04"),
			snapshot.Electric.StringFixed(2),
			snapshot.Water.StringFixed(2),
			snapshot.AC.StringFixed(2),
		)
	}
	return strings.TrimRight(out.String(), "\n")
}

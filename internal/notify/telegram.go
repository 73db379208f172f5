package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramTransport sends messages through the Telegram bot API. The chat
// scope is the target chat identifier.
type TelegramTransport struct {
	apiBase  string
	botToken string
	http     *http.Client
	logger   *slog.Logger
}

// NewTelegramTransport constructs the transport. apiBase is overridable for
// tests; empty means the public API host.
func NewTelegramTransport(botToken, apiBase string, httpClient *http.Client, logger *slog.Logger) *TelegramTransport {
	if apiBase == "" {
		apiBase = defaultTelegramAPI
	}
	if httpClient == nil {
		// The timeout must outlast the long-poll window getUpdates holds
		// open.
		httpClient = &http.Client{
			Timeout:   40 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramTransport{
		apiBase:  apiBase,
		botToken: botToken,
		http:     httpClient,
		logger:   logger,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

// CommandFunc answers one incoming command with a reply string. Empty
// replies are not sent.
type CommandFunc func(ctx context.Context, userID, chatScope, text string) string

// Poll long-polls the bot API for incoming commands until ctx is canceled,
// answering each through handle. Transient polling errors are logged and
// retried after a short pause.
func (t *TelegramTransport) Poll(ctx context.Context, handle CommandFunc) error {
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := t.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Warn("failed to poll updates", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message.Text == "" {
				continue
			}
			userID := strconv.FormatInt(u.Message.From.ID, 10)
			chatScope := strconv.FormatInt(u.Message.Chat.ID, 10)
			if reply := handle(ctx, userID, chatScope, u.Message.Text); reply != "" {
				if err := t.Send(ctx, chatScope, reply); err != nil {
					t.logger.Warn("failed to send reply", "chat", chatScope, "error", err)
				}
			}
		}
	}
}

func (t *TelegramTransport) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?timeout=25&offset=%d", t.apiBase, t.botToken, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("notify: build poll request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notify: poll updates: %w", err)
	}
	defer resp.Body.Close()

	var result updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("notify: decode updates (http %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("notify: telegram rejected poll (http %d)", resp.StatusCode)
	}
	return result.Result, nil
}

// Send delivers text to the chat identified by chatScope.
func (t *TelegramTransport) Send(ctx context.Context, chatScope string, text string) error {
	payload, err := json.Marshal(sendMessageRequest{ChatID: chatScope, Text: text})
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send message: %w", err)
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("notify: decode response (http %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		return fmt.Errorf("notify: telegram rejected message (http %d): %s", resp.StatusCode, result.Description)
	}
	return nil
}

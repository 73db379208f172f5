package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegramTransport_Send(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotPayload sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	t.Cleanup(server.Close)

	transport := NewTelegramTransport("12345:token", server.URL, server.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := transport.Send(context.Background(), "chat-9", "宿舍余额播报"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if gotPath != "/bot12345:token/sendMessage" {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if gotPayload.ChatID != "chat-9" || gotPayload.Text != "宿舍余额播报" {
		t.Fatalf("unexpected payload %+v", gotPayload)
	}
}

func TestTelegramTransport_SendRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"description":"chat not found"}`)
	}))
	t.Cleanup(server.Close)

	transport := NewTelegramTransport("12345:token", server.URL, server.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := transport.Send(context.Background(), "chat-9", "text")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected the rejection description, got %v", err)
	}
}

func TestTelegramTransport_PollAnswersCommands(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sent []sendMessageRequest
	served := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if served {
				// The reply round-trip is done once polling comes back.
				cancel()
				fmt.Fprint(w, `{"ok":true,"result":[]}`)
				return
			}
			served = true
			fmt.Fprint(w, `{"ok":true,"result":[{"update_id":7,"message":{"text":"/query","from":{"id":42},"chat":{"id":-100}}}]}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload sendMessageRequest
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode payload: %v", err)
			}
			sent = append(sent, payload)
			fmt.Fprint(w, `{"ok":true}`)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)

	transport := NewTelegramTransport("12345:token", server.URL, server.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = transport.Poll(ctx, func(ctx context.Context, userID, chatScope, text string) string {
			if userID != "42" || chatScope != "-100" || text != "/query" {
				t.Errorf("unexpected command: user=%q chat=%q text=%q", userID, chatScope, text)
			}
			return "查询失败，请稍后重试。"
		})
	}()
	<-done

	if len(sent) != 1 {
		t.Fatalf("expected 1 reply sent, got %d", len(sent))
	}
	if sent[0].ChatID != "-100" {
		t.Fatalf("reply must target the originating chat, got %q", sent[0].ChatID)
	}
}

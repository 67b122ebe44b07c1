package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type telegramStub struct {
	mu    sync.Mutex
	chats []string
	texts []string
}

func (s *telegramStub) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottoken/") {
			t.Errorf("路径应包含 bot token, 实际 %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": map[string]any{"id": 1, "is_bot": true, "first_name": "signals", "username": "signals_bot"},
			})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			chat := r.FormValue("chat_id")
			if chat == "999" {
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"})
				return
			}
			s.mu.Lock()
			s.chats = append(s.chats, chat)
			s.texts = append(s.texts, r.FormValue("text"))
			s.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": map[string]any{"message_id": 7, "date": 0, "chat": map[string]any{"id": 1, "type": "private"}},
			})
		default:
			t.Errorf("unexpected method %s", r.URL.Path)
		}
	})
}

func TestTelegramSinkSendBulk(t *testing.T) {
	stub := &telegramStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	sink, err := NewTelegramSink(TelegramConfig{BotToken: "token", APIBase: srv.URL + "/", Timeout: time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Telegram sink 创建失败: %v", err)
	}

	sink.SendBulk(context.Background(), []string{"101", "999", "not-a-chat", "@signals_channel", "202"}, "⚠️ PCR Extreme for NIFTY")

	if got := strings.Join(stub.chats, ","); got != "101,@signals_channel,202" {
		t.Fatalf("delivered chats = %s", got)
	}
	for _, text := range stub.texts {
		if text != "⚠️ PCR Extreme for NIFTY" {
			t.Fatalf("text 不正确: %q", text)
		}
	}
}

func TestTelegramSinkRequiresToken(t *testing.T) {
	if _, err := NewTelegramSink(TelegramConfig{}, zerolog.Nop()); err == nil {
		t.Fatal("缺少 bot_token 应报错")
	}
}

func TestTelegramSinkStopsOnCancelledContext(t *testing.T) {
	stub := &telegramStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	sink, err := NewTelegramSink(TelegramConfig{BotToken: "token", APIBase: srv.URL}, zerolog.Nop())
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.SendBulk(ctx, []string{"1", "2"}, "x")
	if len(stub.chats) != 0 {
		t.Fatalf("sent after cancel: %v", stub.chats)
	}
}

func TestTelegramSinkDoesNotContactAPIOnCreate(t *testing.T) {
	var getMe, sends int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			atomic.AddInt32(&getMe, 1)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			atomic.AddInt32(&sends, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 401, "description": "Unauthorized"})
	}))
	defer srv.Close()

	sink, err := NewTelegramSink(TelegramConfig{BotToken: "revoked", APIBase: srv.URL}, zerolog.Nop())
	if err != nil {
		t.Fatalf("token 被拒绝时创建也应成功: %v", err)
	}
	sink.SendBulk(context.Background(), []string{"101"}, "x")

	if n := atomic.LoadInt32(&getMe); n != 0 {
		t.Fatalf("getMe called %d times", n)
	}
	if n := atomic.LoadInt32(&sends); n != 1 {
		t.Fatalf("sendMessage calls = %d, want 1 (failure logged, not returned)", n)
	}
}

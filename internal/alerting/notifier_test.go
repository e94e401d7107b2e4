package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNote() Notification {
	return Notification{
		Bucket:   time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC),
		Metric:   "default_probability",
		Source:   "coreweave_cds",
		Value:    decimal.RequireFromString("42.2"),
		Unit:     "%",
		Label:    "distressed",
		Severity: "critical",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "distressed") {
		t.Fatalf("text 应包含标签: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(testNote())
	for _, want := range []string{"[AI Watch CRITICAL]", "Metric: default_probability", "Value: 42.20 %", "Status: distressed", "2025-11-30T00:00:00Z"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("消息缺少 %q:\n%s", want, msg)
		}
	}
}

func TestWebhookNotifier(t *testing.T) {
	var payload struct {
		Text     string `json:"text"`
		Metric   string `json:"metric"`
		Severity string `json:"severity"`
		Value    string `json:"value"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, map[string]string{"Authorization": "Bearer x"}, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Webhook Notify 应成功: %v", err)
	}
	if auth != "Bearer x" {
		t.Fatalf("Authorization 头缺失: %q", auth)
	}
	if payload.Metric != "default_probability" || payload.Severity != "critical" || payload.Value != "42.2" {
		t.Fatalf("payload 不正确: %+v", payload)
	}
	if !strings.Contains(payload.Text, "distressed") {
		t.Fatalf("text 应包含标签: %q", payload.Text)
	}
}

func TestWebhookNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, nil, time.Second, testLogger())
	err := notifier.Notify(context.Background(), testNote())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("非 2xx 应报错, 实际 %v", err)
	}
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, Notification) error {
	c.calls++
	return c.err
}

func TestFanoutRoutesByChannel(t *testing.T) {
	tg := &countingNotifier{}
	hook := &countingNotifier{err: errors.New("down")}
	fan := NewFanout([]Named{{Channel: "telegram", Notifier: tg}, {Channel: "webhook", Notifier: hook}}, testLogger())

	note := testNote()
	note.Channels = []string{"Telegram"}
	if err := fan.Notify(context.Background(), note); err != nil {
		t.Fatalf("仅 telegram 通道不应报错: %v", err)
	}
	if tg.calls != 1 || hook.calls != 0 {
		t.Fatalf("通道路由不正确: tg=%d hook=%d", tg.calls, hook.calls)
	}

	note.Channels = nil
	err := fan.Notify(context.Background(), note)
	if err == nil || !strings.Contains(err.Error(), "webhook") {
		t.Fatalf("webhook 失败应返回错误, 实际 %v", err)
	}
	if tg.calls != 2 || hook.calls != 1 {
		t.Fatalf("空通道列表应发送到全部: tg=%d hook=%d", tg.calls, hook.calls)
	}

	if NewFanout(nil, testLogger()) != nil {
		t.Fatal("无通道时应返回 nil")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

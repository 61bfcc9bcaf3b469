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
		Input:        "example.com",
		Change:       decimal.NewFromFloat(0.25),
		Threshold:    decimal.NewFromFloat(0.1),
		PreviousRate: decimal.NewFromFloat(0.05),
		CurrentRate:  decimal.NewFromFloat(0.3),
		When:         time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestRenderMessage(t *testing.T) {
	body := renderMessage(testNote())
	if !strings.Contains(body, "example.com") {
		t.Fatalf("body should name the input: %q", body)
	}
	if !strings.Contains(body, "0.25") {
		t.Fatalf("body should carry the change magnitude: %q", body)
	}
	if !strings.Contains(body, "2024-02-01 12:00:00") {
		t.Fatalf("body should carry the timestamp: %q", body)
	}
	if subjectLine(testNote()) != "[ALERT] url example.com" {
		t.Fatalf("unexpected subject: %q", subjectLine(testNote()))
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "example.com") {
		t.Fatalf("text should name the input: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false should fail")
	}
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(ctx context.Context, note Notification) error {
	s.calls++
	return s.err
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	failing := &stubNotifier{err: errors.New("boom")}
	ok := &stubNotifier{}

	err := Fanout{failing, ok}.Notify(context.Background(), testNote())
	if err == nil {
		t.Fatal("fanout should report the failed channel")
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Fatalf("all channels should be attempted: %d, %d", failing.calls, ok.calls)
	}
}

func TestEmailNotifierRequiresAddresses(t *testing.T) {
	n := NewEmailNotifier(EmailOptions{Host: "smtp.example.org"}, testLogger())
	if err := n.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("missing addresses should fail")
	}
}

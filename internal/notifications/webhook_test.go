package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kjannette/trahn-swarm/internal/models"
)

func TestSend_NoWebhook(t *testing.T) {
	s := NewSender("", "TestBot", nil)
	if s.Enabled() {
		t.Fatal("should not be enabled with empty URL")
	}
	s.Send("hello from test")
	t.Log("Send with no webhook: OK (log only)")
}

func TestSend_SlackFormat(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "TestBot", nil)
	if !s.Enabled() {
		t.Fatal("should be enabled")
	}

	s.Send("bundle landed")

	if received["username"] != "TestBot" {
		t.Fatalf("username: got %s", received["username"])
	}
	if received["text"] == "" {
		t.Fatal("text should not be empty")
	}
	t.Logf("Slack payload: %+v", received)
}

func TestSend_DiscordFormat(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL+"/discord/webhook", "TrahnBot", nil)
	s.Send("alpha bought BONK for 0.0300 SOL")

	if received["content"] == "" {
		t.Fatal("content should not be empty for Discord")
	}
	if received["username"] != "TrahnBot" {
		t.Fatalf("username: got %s", received["username"])
	}
	if _, hasText := received["text"]; hasText {
		t.Fatal("Discord payload should not have 'text' field")
	}
	t.Logf("Discord payload: %+v", received)
}

func TestSend_WebhookError(t *testing.T) {
	s := NewSender("http://localhost:1/bogus", "TestBot", nil)
	s.Send("this will fail gracefully")
	t.Log("Webhook error handled gracefully")
}

func TestDefaultBotName(t *testing.T) {
	s := NewSender("", "", nil)
	if s.botName != "TrahnSwarm" {
		t.Fatalf("expected default bot name, got %s", s.botName)
	}
}

func TestRecord_QueuesNotableEntries(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]string
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &p)
		mu.Lock()
		got = append(got, p["content"])
		mu.Unlock()
	}))
	defer srv.Close()

	s := NewSender(srv.URL+"/discord", "Swarm", nil)
	pnl := 0.0155
	entries := []models.JournalEntry{
		{Agent: "alpha", Asset: "So1MintAddressXYZ", Ticker: "BONK", Action: models.ActionBuy, NativeAmount: 0.03, Venue: "primary"},
		{Agent: "alpha", Asset: "So1MintAddressXYZ", Action: models.ActionBuyFail, Attempt: 1},
		{Agent: "alpha", Asset: "So1MintAddressXYZ", Action: models.ActionSell, NativeAmount: 0.0455, RealizedPnL: &pnl, Reason: "TAKE_PROFIT"},
	}
	for _, e := range entries {
		if err := s.Record(context.Background(), e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[0], "alpha bought BONK for 0.0300 SOL via primary") {
		t.Fatalf("unexpected buy message %q", got[0])
	}
	if !strings.Contains(got[1], "PnL +0.0155 SOL (TAKE_PROFIT)") || !strings.Contains(got[1], "So1M..tXYZ") {
		t.Fatalf("unexpected sell message %q", got[1])
	}
}

func TestDescribe_Paper(t *testing.T) {
	msg, ok := Describe(models.JournalEntry{Agent: "a", Asset: "m", Action: models.ActionStaleCleanup, Paper: true})
	if !ok || !strings.HasPrefix(msg, "[PAPER] a dropped stale position m") {
		t.Fatalf("unexpected %q %v", msg, ok)
	}
	if _, ok := Describe(models.JournalEntry{Action: models.ActionSkip}); ok {
		t.Fatal("SKIP should not notify")
	}
}

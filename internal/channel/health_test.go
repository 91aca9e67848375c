package channel

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func healthTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHealth() *Health {
	return NewHealth(HealthConfig{
		Status: func() StatusSnapshot {
			return StatusSnapshot{
				Version:      "0.1.0",
				Provider:     "ollama",
				UseAI:        true,
				Skills:       []string{"market", "calendar", "general"},
				PendingCount: 2,
			}
		},
		Logger: healthTestLogger(),
	})
}

func TestHealthz(t *testing.T) {
	h := newTestHealth()
	rec := httptest.NewRecorder()
	h.handleHealthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestStatusSnapshot(t *testing.T) {
	h := newTestHealth()
	rec := httptest.NewRecorder()
	h.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var snap StatusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Provider != "ollama" {
		t.Errorf("provider = %q", snap.Provider)
	}
	if len(snap.Skills) != 3 {
		t.Errorf("skills = %v", snap.Skills)
	}
	if snap.PendingCount != 2 {
		t.Errorf("pending = %d", snap.PendingCount)
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("uptime = %d", snap.UptimeSeconds)
	}
}

func TestStatusWithoutCallback(t *testing.T) {
	h := NewHealth(HealthConfig{Logger: healthTestLogger()})
	rec := httptest.NewRecorder()
	h.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestTelegramAllowList(t *testing.T) {
	tg := NewTelegram(TelegramConfig{
		Token:     "test",
		AllowFrom: []string{"100", " 200 ", "not-a-number"},
		Logger:    healthTestLogger(),
	})

	if !tg.isAllowed(100) || !tg.isAllowed(200) {
		t.Error("listed users should be allowed")
	}
	if tg.isAllowed(300) {
		t.Error("unlisted user should be denied")
	}

	open := NewTelegram(TelegramConfig{Token: "test", Logger: healthTestLogger()})
	if !open.isAllowed(42) {
		t.Error("empty allow list should allow everyone")
	}
}

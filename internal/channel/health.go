package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"valet/internal/domain"
	"valet/internal/metrics"
)

// Health serves the operational endpoints: /healthz for liveness, /status
// for a JSON snapshot and /metrics in Prometheus text format.
type Health struct {
	host   string
	port   int
	status func() StatusSnapshot
	logger *slog.Logger
	server *http.Server
}

// StatusSnapshot is the payload for GET /status.
type StatusSnapshot struct {
	Version       string   `json:"version"`
	Provider      string   `json:"provider"`
	UseAI         bool     `json:"useAI"`
	Skills        []string `json:"skills"`
	PendingCount  int      `json:"pendingApprovals"`
	UptimeSeconds int64    `json:"uptimeSeconds"`
}

type HealthConfig struct {
	Host   string
	Port   int
	Status func() StatusSnapshot
	Logger *slog.Logger
}

func NewHealth(cfg HealthConfig) *Health {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &Health{
		host:   cfg.Host,
		port:   cfg.Port,
		status: cfg.Status,
		logger: cfg.Logger,
	}
}

func (h *Health) Name() string { return "health" }

// Start serves until the context is cancelled. The bus is unused; Health is
// a read-only surface.
func (h *Health) Start(ctx context.Context, bus domain.MessageBus) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /metrics", metrics.Collector.Handler())

	addr := fmt.Sprintf("%s:%d", h.host, h.port)
	h.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	h.logger.Info("health server started", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.server.Shutdown(shutdownCtx)
	}()

	if err := h.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *Health) Stop() error {
	if h.server != nil {
		return h.server.Close()
	}
	return nil
}

func (h *Health) Send(ctx context.Context, chatID string, content string) error {
	return nil
}

func (h *Health) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (h *Health) handleStatus(w http.ResponseWriter, r *http.Request) {
	var snap StatusSnapshot
	if h.status != nil {
		snap = h.status()
	}
	snap.UptimeSeconds = int64(metrics.Collector.Uptime().Seconds())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("status encode failed", "err", err)
	}
}

package assist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"valet/internal/domain"
	"valet/internal/intent"
	"valet/internal/metrics"
)

const defaultConcurrency = 3

// IntentRouter decides which skill handles a message.
type IntentRouter interface {
	Route(ctx context.Context, req intent.RouteRequest) (domain.RoutingResult, error)
}

// ApprovalGate asks the user to confirm an action before it runs.
type ApprovalGate interface {
	Request(ctx context.Context, chatID string, result domain.RoutingResult, message string) (domain.ApprovalState, error)
}

// SkillLookup resolves skill descriptors by id.
type SkillLookup interface {
	GetByID(id string) (domain.SkillDescriptor, bool)
}

// Loop consumes inbound messages, routes them to skills, runs the approval
// gate for guarded skills and dispatches execution.
type Loop struct {
	router      IntentRouter
	gate        ApprovalGate
	skills      SkillLookup
	executors   *ExecutorSet
	bus         domain.MessageBus
	useAI       bool
	concurrency int
	logger      *slog.Logger
}

type LoopConfig struct {
	Router      IntentRouter
	Gate        ApprovalGate
	Skills      SkillLookup
	Executors   *ExecutorSet
	Bus         domain.MessageBus
	UseAI       bool
	Concurrency int
	Logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		router:      cfg.Router,
		gate:        cfg.Gate,
		skills:      cfg.Skills,
		executors:   cfg.Executors,
		bus:         cfg.Bus,
		useAI:       cfg.UseAI,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run consumes inbound messages from the bus with bounded concurrency until
// the context is cancelled or the bus closes.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("assist loop started", "concurrency", l.concurrency, "use_ai", l.useAI)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("assist loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, assist loop stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// ProcessDirect handles a message synchronously and returns the reply.
// Used by the CLI channel, which needs a blocking answer.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) (string, error) {
	return l.handleMessage(ctx, domain.InboundMessage{
		Channel:        channel,
		ChatID:         chatID,
		SenderID:       "user",
		ConversationID: channel + ":" + chatID,
		Content:        content,
		Timestamp:      time.Now(),
	})
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	reply, err := l.handleMessage(ctx, msg)
	if err != nil {
		l.logger.Error("message handling failed", "channel", msg.Channel, "error", err)
		reply = "Sorry, something went wrong handling that request."
	}
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
		Format:  "markdown",
	})
}

func (l *Loop) handleMessage(ctx context.Context, msg domain.InboundMessage) (string, error) {
	start := time.Now()

	result, err := l.router.Route(ctx, intent.RouteRequest{
		Message:        msg.Content,
		ConversationID: msg.ConversationID,
		UseAI:          l.useAI,
	})
	if err != nil {
		return "", fmt.Errorf("route: %w", err)
	}

	sk, ok := l.skills.GetByID(result.SkillID)
	if !ok {
		return "", fmt.Errorf("routed skill %q not found", result.SkillID)
	}

	if result.RequiresApproval && l.gate != nil {
		state, err := l.gate.Request(ctx, msg.ChatID, result, msg.Content)
		if err != nil {
			l.logger.Warn("approval gate error", "skill", sk.ID, "error", err)
		}
		switch state {
		case domain.ApprovalApproved:
			// Fall through to execution.
		case domain.ApprovalExpired:
			return fmt.Sprintf("Request timed out waiting for approval. %s was not run.", sk.Name), nil
		default:
			return fmt.Sprintf("Okay, cancelled. %s was not run.", sk.Name), nil
		}
	}

	reply, err := l.executors.For(sk.ID).Execute(ctx, sk, result, msg)
	if err != nil {
		return "", fmt.Errorf("execute %s: %w", sk.ID, err)
	}

	metrics.Collector.Counter("valet_messages_handled_total",
		"Messages handled by skill", `skill="`+sk.ID+`"`).Inc()
	l.logger.Info("message handled",
		"skill", sk.ID,
		"confidence", result.Confidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

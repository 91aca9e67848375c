package intent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"valet/internal/domain"
	"valet/internal/metrics"
	"valet/internal/skill"
)

const defaultPreviewLength = 80

// Router is the single entry point for routing decisions. It ties the
// registry, both classifiers, and the audit sink together. Stateless across
// calls except for the registry's lazy load-once behavior.
type Router struct {
	registry      *skill.Registry
	keyword       *KeywordClassifier
	ai            *AIClassifier    // optional
	audit         domain.AuditSink // optional
	previewLength int
	logger        *slog.Logger
}

type RouterConfig struct {
	Registry      *skill.Registry
	Keyword       *KeywordClassifier
	AI            *AIClassifier
	Audit         domain.AuditSink
	PreviewLength int
	Logger        *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = defaultPreviewLength
	}
	return &Router{
		registry:      cfg.Registry,
		keyword:       cfg.Keyword,
		ai:            cfg.AI,
		audit:         cfg.Audit,
		previewLength: cfg.PreviewLength,
		logger:        cfg.Logger,
	}
}

type RouteRequest struct {
	Message        string
	ConversationID string
	UseAI          bool
}

// Route classifies one message and returns a single routing decision.
//
// The only error it can return is a truly unrecoverable one (registry empty
// with no fallback), which a correctly seeded built-in list makes
// unreachable. Every recoverable failure (store down, provider down,
// unparseable model output, hallucinated skill id, audit write failure)
// degrades inside this call.
func (r *Router) Route(ctx context.Context, req RouteRequest) (domain.RoutingResult, error) {
	// Load-if-empty, not load-if-stale: external store updates require a
	// fresh Load by the owner.
	if !r.registry.Loaded() {
		r.registry.Load(ctx)
	}

	path := "keyword"
	var results []domain.RoutingResult
	if req.UseAI && r.ai != nil {
		path = "ai"
		results = r.ai.Classify(ctx, req.Message)
	} else {
		results = r.keyword.Classify(ctx, req.Message)
	}
	if len(results) == 0 {
		return domain.RoutingResult{}, fmt.Errorf("no routing decision: registry has no fallback skill")
	}
	result := results[0]

	// Resolve the winner to read its autonomy level. An unknown or disabled
	// id (the AI can hallucinate one) routes to the fallback skill instead
	// of crashing downstream.
	desc, ok := r.registry.GetByID(result.SkillID)
	if !ok || !desc.Enabled {
		fb, fok := r.registry.Fallback()
		if !fok {
			return domain.RoutingResult{}, fmt.Errorf("skill %q not in registry and no fallback exists", result.SkillID)
		}
		r.logger.Warn("classifier chose unresolvable skill, routing to fallback",
			"skill", result.SkillID,
			"fallback", fb.ID,
		)
		metrics.Collector.Counter("valet_routing_unknown_skill_total",
			"Routing decisions that named a skill not in the registry", "").Inc()
		result.SkillID = fb.ID
		desc = fb
	}
	result.RequiresApproval = desc.AutonomyLevel == domain.AutonomyApprovalRequired

	metrics.Collector.Counter("valet_routing_decisions_total",
		"Routing decisions by classification path", `path="`+path+`"`).Inc()

	r.recordAudit(ctx, req, result, path)

	r.logger.Info("message routed",
		"skill", result.SkillID,
		"confidence", result.Confidence,
		"path", path,
		"requires_approval", result.RequiresApproval,
	)
	return result, nil
}

// recordAudit emits exactly one audit entry per Route call. A sink failure
// is logged and swallowed: routing must complete regardless.
func (r *Router) recordAudit(ctx context.Context, req RouteRequest, result domain.RoutingResult, path string) {
	if r.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		ConversationID: req.ConversationID,
		SkillID:        result.SkillID,
		Confidence:     result.Confidence,
		Path:           path,
		MessagePreview: preview(req.Message, r.previewLength),
		Reasoning:      result.Reasoning,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.audit.RecordRouting(ctx, entry); err != nil {
		r.logger.Warn("audit write failed", "err", err)
	}
}

// preview truncates a message for the audit log, rune-safe.
func preview(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

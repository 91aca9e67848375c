package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"valet/internal/domain"
	"valet/internal/metrics"
	"valet/internal/skill"
)

const (
	defaultAITimeout      = 30 * time.Second
	classifierMaxTokens   = 512
	keywordFallbackReason = "fallback to keyword matching"
)

const classifierSystem = `You are an intent classifier for a personal assistant bot. ` +
	`Respond with strict JSON only: {"primaryIntent": "<skill id>", "confidence": <0-1>, ` +
	`"entities": {"<name>": "<value>"}, "reasoning": "<one sentence>"}. ` +
	`Prefer the most specific matching skill.`

// errNoJSON marks the explicit "parse failed" branch: the model response
// contained no balanced JSON object.
var errNoJSON = errors.New("no JSON object in model response")

// AIClassifier is the higher-precision path: one model round-trip per
// message. Any provider error, timeout, or unparseable response degrades
// transparently to the keyword classifier's top result; the bot must always
// produce some routing decision.
type AIClassifier struct {
	registry *skill.Registry
	keyword  *KeywordClassifier
	provider domain.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

type AIClassifierConfig struct {
	Registry *skill.Registry
	Keyword  *KeywordClassifier
	Provider domain.Provider
	Timeout  time.Duration
	Logger   *slog.Logger
}

func NewAIClassifier(cfg AIClassifierConfig) *AIClassifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAITimeout
	}
	return &AIClassifier{
		registry: cfg.Registry,
		keyword:  cfg.Keyword,
		provider: cfg.Provider,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

func (a *AIClassifier) Classify(ctx context.Context, message string) []domain.RoutingResult {
	result, err := a.classify(ctx, message)
	if err != nil {
		a.logger.Warn("ai classification degraded to keyword path", "err", err)
		metrics.Collector.Counter("valet_ai_classifier_fallbacks_total",
			"AI classifications that degraded to the keyword path", "").Inc()
		results := a.keyword.Classify(ctx, message)
		if len(results) == 0 {
			return nil
		}
		top := results[0]
		top.Reasoning = keywordFallbackReason
		return []domain.RoutingResult{top}
	}
	return []domain.RoutingResult{result}
}

func (a *AIClassifier) classify(ctx context.Context, message string) (domain.RoutingResult, error) {
	fallbackID := "general"
	if fb, ok := a.registry.Fallback(); ok {
		fallbackID = fb.ID
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.provider.Complete(ctx, domain.CompletionRequest{
		System:      classifierSystem,
		Prompt:      a.buildPrompt(message, fallbackID),
		MaxTokens:   classifierMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return domain.RoutingResult{}, fmt.Errorf("classifier completion: %w", err)
	}

	return parseClassification(resp.Content, fallbackID)
}

// buildPrompt renders the catalog of enabled non-fallback skills as
// "id: description" lines, with the fallback id reserved as the explicit
// escape hatch.
func (a *AIClassifier) buildPrompt(message, fallbackID string) string {
	var sb strings.Builder
	sb.WriteString("Available skills:\n")
	for _, s := range a.registry.ListEnabled() {
		if s.IsFallback() {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", s.ID, s.Description)
	}
	fmt.Fprintf(&sb, "- %s: use only when no other skill fits\n\n", fallbackID)
	fmt.Fprintf(&sb, "User message: %q\n", message)
	sb.WriteString("\nClassify the message. Respond with the JSON object only.")
	return sb.String()
}

// aiClassification is the wire shape the model is instructed to return.
// Confidence is a pointer so an absent field is distinguishable from 0.
type aiClassification struct {
	PrimaryIntent string            `json:"primaryIntent"`
	Confidence    *float64          `json:"confidence"`
	Entities      map[string]string `json:"entities"`
	Reasoning     string            `json:"reasoning"`
}

// parseClassification decodes the first balanced JSON object in the raw
// model output. Absent fields are defaulted: primaryIntent to the fallback
// id, confidence to 0.5, entities to an empty map.
func parseClassification(raw, fallbackID string) (domain.RoutingResult, error) {
	obj, ok := extractJSON(raw)
	if !ok {
		return domain.RoutingResult{}, errNoJSON
	}

	var c aiClassification
	if err := json.Unmarshal([]byte(obj), &c); err != nil {
		return domain.RoutingResult{}, fmt.Errorf("decode classification: %w", err)
	}

	if c.PrimaryIntent == "" {
		c.PrimaryIntent = fallbackID
	}
	confidence := 0.5
	if c.Confidence != nil {
		confidence = *c.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
	}
	if c.Entities == nil {
		c.Entities = map[string]string{}
	}

	return domain.RoutingResult{
		SkillID:         c.PrimaryIntent,
		Confidence:      confidence,
		ExtractedParams: c.Entities,
		Reasoning:       c.Reasoning,
	}, nil
}

// extractJSON returns the first balanced {...} object in s. Models wrap JSON
// in prose or code fences, so surrounding text is ignored; braces inside
// string literals do not count toward the balance.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			ch := s[i]
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				if inString {
					escaped = true
				}
			case '"':
				inString = !inString
			case '{':
				if !inString {
					depth++
				}
			case '}':
				if !inString {
					depth--
					if depth == 0 {
						return s[start : i+1], true
					}
				}
			}
		}
		// Unbalanced from this opening brace; try the next one.
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return "", false
}

// Package assist contains the message-handling loop that ties routing,
// approvals and skill execution together.
package assist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"valet/internal/domain"
)

// Executor runs a routed skill against a user message and returns the reply text.
type Executor interface {
	Execute(ctx context.Context, skill domain.SkillDescriptor, result domain.RoutingResult, msg domain.InboundMessage) (string, error)
}

// ExecutorSet maps skill ids to executors, with a default for everything else.
type ExecutorSet struct {
	executors map[string]Executor
	fallback  Executor
}

func NewExecutorSet(fallback Executor) *ExecutorSet {
	return &ExecutorSet{
		executors: make(map[string]Executor),
		fallback:  fallback,
	}
}

// Register binds an executor to a skill id, replacing any existing binding.
func (s *ExecutorSet) Register(skillID string, ex Executor) {
	s.executors[skillID] = ex
}

// For returns the executor bound to the skill, or the default.
func (s *ExecutorSet) For(skillID string) Executor {
	if ex, ok := s.executors[skillID]; ok {
		return ex
	}
	return s.fallback
}

const chatSystemPrompt = `You are Valet, a personal assistant. Answer the user's
message directly and concisely. If you cannot help, say so plainly.`

// ChatExecutor answers free-form messages with the language model. It backs
// the fallback skill, where no specialized handler applies.
type ChatExecutor struct {
	provider domain.Provider
	logger   *slog.Logger
}

func NewChatExecutor(provider domain.Provider, logger *slog.Logger) *ChatExecutor {
	return &ChatExecutor{provider: provider, logger: logger}
}

func (e *ChatExecutor) Execute(ctx context.Context, skill domain.SkillDescriptor, result domain.RoutingResult, msg domain.InboundMessage) (string, error) {
	if e.provider == nil {
		return "", fmt.Errorf("chat executor: no provider configured")
	}
	resp, err := e.provider.Complete(ctx, domain.CompletionRequest{
		System:      chatSystemPrompt,
		Prompt:      msg.Content,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	return resp.Content, nil
}

// AckExecutor acknowledges a routed request for skills that have no live
// backend yet. It names the skill and echoes the extracted parameters so the
// user can see what was understood.
type AckExecutor struct {
	logger *slog.Logger
}

func NewAckExecutor(logger *slog.Logger) *AckExecutor {
	return &AckExecutor{logger: logger}
}

func (e *AckExecutor) Execute(ctx context.Context, skill domain.SkillDescriptor, result domain.RoutingResult, msg domain.InboundMessage) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Got it. Routing this to %s.", skill.Name)
	if len(result.ExtractedParams) > 0 {
		keys := make([]string, 0, len(result.ExtractedParams))
		for k := range result.ExtractedParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\n\nUnderstood:")
		for _, k := range keys {
			fmt.Fprintf(&sb, "\n- %s: %s", k, result.ExtractedParams[k])
		}
	}
	return sb.String(), nil
}

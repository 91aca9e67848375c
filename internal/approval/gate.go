// Package approval implements the approval gate: routing decisions for
// skills with autonomy level approval_required are proposals, not actions,
// until the user confirms them.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"valet/internal/domain"
	"valet/internal/metrics"

	"github.com/google/uuid"
)

const defaultTimeout = 120 * time.Second

// ConfirmFunc asks the user to approve or deny a proposal. Channels provide
// this (Telegram renders inline buttons); it returns true on approval.
type ConfirmFunc func(ctx context.Context, chatID string, question string) (bool, error)

// Gate runs the pending → approved|denied|expired lifecycle for gated
// routing results. Proposals are persisted so a restart does not silently
// drop them.
type Gate struct {
	store   domain.ApprovalStore // optional
	confirm ConfirmFunc
	timeout time.Duration
	logger  *slog.Logger
}

type GateConfig struct {
	Store   domain.ApprovalStore
	Confirm ConfirmFunc
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Gate{
		store:   cfg.Store,
		confirm: cfg.Confirm,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Request gates one routing decision and blocks until the user resolves it
// or the timeout expires. The returned state is always terminal; the error
// is non-nil only when the confirmation transport itself failed (the
// proposal is still denied in that case). Store failures are logged and
// never block the gate.
func (g *Gate) Request(ctx context.Context, chatID string, result domain.RoutingResult, message string) (domain.ApprovalState, error) {
	a := domain.Approval{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SkillID:   result.SkillID,
		Message:   message,
		State:     domain.ApprovalPending,
		CreatedAt: time.Now().UTC(),
	}
	if g.store != nil {
		if err := g.store.CreateApproval(ctx, a); err != nil {
			g.logger.Warn("cannot persist approval", "id", a.ID, "err", err)
		}
	}

	state, askErr := g.ask(ctx, a)

	if g.store != nil {
		if err := g.store.ResolveApproval(ctx, a.ID, state); err != nil {
			g.logger.Warn("cannot resolve stored approval", "id", a.ID, "err", err)
		}
	}
	metrics.Collector.Counter("valet_approvals_total",
		"Approval gate outcomes", `outcome="`+string(state)+`"`).Inc()

	g.logger.Info("approval resolved", "id", a.ID, "skill", a.SkillID, "state", state)
	return state, askErr
}

func (g *Gate) ask(ctx context.Context, a domain.Approval) (domain.ApprovalState, error) {
	if g.confirm == nil {
		// No confirmation handler registered: deny by default.
		g.logger.Warn("no confirmation handler, denying proposal", "skill", a.SkillID)
		return domain.ApprovalDenied, nil
	}

	question := fmt.Sprintf("⏸ Approval required\n\nSkill: %s\nRequest: %s\n\nProceed?", a.SkillID, a.Message)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	confirmed, err := g.confirm(ctx, a.ChatID, question)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ApprovalExpired, nil
		}
		g.logger.Warn("confirmation failed, denying proposal", "id", a.ID, "err", err)
		return domain.ApprovalDenied, fmt.Errorf("confirm: %w", err)
	}
	if confirmed {
		return domain.ApprovalApproved, nil
	}
	return domain.ApprovalDenied, nil
}

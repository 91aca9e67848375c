package domain

import (
	"context"
	"time"
)

// ApprovalState tracks the lifecycle of a gated action proposal.
// Valid transitions: pending → approved | denied | expired. A resolved
// approval never transitions again.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalDenied   ApprovalState = "denied"
	ApprovalExpired  ApprovalState = "expired"
)

// Approval is a proposed action from a skill with autonomy level
// approval_required, waiting for the user's decision.
type Approval struct {
	ID         string        `json:"id"`
	ChatID     string        `json:"chat_id"`
	SkillID    string        `json:"skill_id"`
	Message    string        `json:"message"`
	State      ApprovalState `json:"state"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// ApprovalStore persists approvals so a restart does not silently drop
// pending proposals.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, a Approval) error
	ResolveApproval(ctx context.Context, id string, state ApprovalState) error
	ListPendingApprovals(ctx context.Context) ([]Approval, error)
}

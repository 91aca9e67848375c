package domain

import (
	"context"
	"time"
)

// AuditEntry records one routing decision. Exactly one entry is produced
// per Route call; writing it must never block or abort routing.
type AuditEntry struct {
	ConversationID string    `json:"conversation_id"`
	SkillID        string    `json:"skill_id"`
	Confidence     float64   `json:"confidence"`
	Path           string    `json:"path"` // keyword | ai
	MessagePreview string    `json:"message_preview"`
	Reasoning      string    `json:"reasoning,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditSink receives routing decisions. The sink decides retention; the
// router never reads entries back.
type AuditSink interface {
	RecordRouting(ctx context.Context, entry AuditEntry) error
}

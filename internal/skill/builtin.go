package skill

import "valet/internal/domain"

// Builtins returns the built-in skill list. It substitutes whenever the
// durable store is unavailable, empty, or fails validation, so the bot is
// routable even before the store is provisioned.
func Builtins() []domain.SkillDescriptor {
	return []domain.SkillDescriptor{
		{
			ID:              "market",
			Name:            "Market Data",
			Description:     "Stock quotes, portfolio value and market summaries",
			TriggerPatterns: []string{"price of", "stock", "portfolio", "market", "quote", "ticker"},
			RequiredInputs:  []string{"symbol"},
			Outputs:         []string{"quote", "summary"},
			AutonomyLevel:   domain.AutonomyFull,
			Enabled:         true,
		},
		{
			ID:              "calendar",
			Name:            "Calendar",
			Description:     "Create, list and update calendar events and meetings",
			TriggerPatterns: []string{"schedule", "meeting", "calendar", "appointment", "event"},
			RequiredInputs:  []string{"title", "time"},
			Outputs:         []string{"event"},
			AutonomyLevel:   domain.AutonomyApprovalRequired,
			Enabled:         true,
		},
		{
			ID:              "email",
			Name:            "Email",
			Description:     "Read, summarize and send email",
			TriggerPatterns: []string{"email", "inbox", "send a mail", "compose", "unread"},
			RequiredInputs:  []string{"recipient", "body"},
			Outputs:         []string{"message"},
			AutonomyLevel:   domain.AutonomyApprovalRequired,
			Enabled:         true,
		},
		{
			ID:              "reminders",
			Name:            "Reminders",
			Description:     "Set and list personal reminders",
			TriggerPatterns: []string{"remind me", "reminder", "don't forget", "dont forget"},
			RequiredInputs:  []string{"text", "time"},
			Outputs:         []string{"reminder"},
			AutonomyLevel:   domain.AutonomyFull,
			Enabled:         true,
		},
		{
			ID:              "kanban",
			Name:            "Kanban Board",
			Description:     "Manage tasks and cards on the kanban board",
			TriggerPatterns: []string{"kanban", "task", "todo", "backlog", "move card"},
			RequiredInputs:  []string{"card"},
			Outputs:         []string{"card"},
			AutonomyLevel:   domain.AutonomyFull,
			Enabled:         true,
		},
		{
			ID:              "social",
			Name:            "Social",
			Description:     "Draft and publish social media posts",
			TriggerPatterns: []string{"tweet", "post to", "social", "publish"},
			RequiredInputs:  []string{"text"},
			Outputs:         []string{"post"},
			AutonomyLevel:   domain.AutonomyApprovalRequired,
			Enabled:         true,
		},
		{
			ID:              "code-exec",
			Name:            "Code Execution",
			Description:     "Run short code snippets and report the output",
			TriggerPatterns: []string{"run code", "execute", "run this", "eval"},
			RequiredInputs:  []string{"code"},
			Outputs:         []string{"stdout"},
			Dependencies:    []string{"general"},
			AutonomyLevel:   domain.AutonomyApprovalRequired,
			Enabled:         true,
		},
		{
			ID:            "general",
			Name:          "General Conversation",
			Description:   "General chat, questions and anything no other skill covers",
			AutonomyLevel: domain.AutonomyFull,
			Enabled:       true,
		},
	}
}

package domain

import "context"

// AutonomyLevel controls whether a skill's actions execute immediately or
// must wait for the user's approval.
type AutonomyLevel string

const (
	AutonomyFull             AutonomyLevel = "full"
	AutonomyApprovalRequired AutonomyLevel = "approval_required"
)

// SkillDescriptor is the static definition of one capability.
type SkillDescriptor struct {
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	Description     string        `json:"description" yaml:"description"`
	TriggerPatterns []string      `json:"trigger_patterns" yaml:"trigger_patterns"`
	RequiredInputs  []string      `json:"required_inputs,omitempty" yaml:"required_inputs,omitempty"`
	Outputs         []string      `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Dependencies    []string      `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	AutonomyLevel   AutonomyLevel `json:"autonomy_level" yaml:"autonomy_level"`
	Enabled         bool          `json:"enabled" yaml:"enabled"`
}

// IsFallback reports whether this skill is the catch-all: an empty trigger
// vocabulary means it is selected only when nothing else matches.
func (s SkillDescriptor) IsFallback() bool {
	return len(s.TriggerPatterns) == 0
}

// RoutingResult is the outcome of classifying one message.
type RoutingResult struct {
	SkillID          string            `json:"skill_id"`
	Confidence       float64           `json:"confidence"`
	ExtractedParams  map[string]string `json:"extracted_params,omitempty"`
	RequiresApproval bool              `json:"requires_approval"`
	Reasoning        string            `json:"reasoning,omitempty"`
}

// SkillStore is the durable source of skill descriptors.
type SkillStore interface {
	FetchEnabledSkills(ctx context.Context) ([]SkillDescriptor, error)
}

// Package intent implements the intent routing core: given free-form user
// text, decide which skill should handle it, with what confidence, and
// whether the action needs the user's approval first.
package intent

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"valet/internal/domain"
	"valet/internal/skill"
)

// Classifier maps a message to a ranked list of routing candidates, highest
// confidence first. Implementations never return an error: classification
// failures degrade internally.
type Classifier interface {
	Classify(ctx context.Context, message string) []domain.RoutingResult
}

// KeywordClassifier is the fast, deterministic, no-network path: substring
// matching against each skill's trigger vocabulary. Used as the default path
// and as the AI path's fallback.
type KeywordClassifier struct {
	registry *skill.Registry
	logger   *slog.Logger
}

func NewKeywordClassifier(registry *skill.Registry, logger *slog.Logger) *KeywordClassifier {
	return &KeywordClassifier{registry: registry, logger: logger}
}

// Classify ranks all enabled non-fallback skills by trigger hits.
//
// Confidence is min(matched/total + 0.5, 1.0): any single hit floors at 0.5
// so a weak match still beats an unclassified message, and a skill whose
// entire small vocabulary matches saturates before one with many loosely
// related keywords. Ties keep registry order (stable sort). Zero matches
// yield the fallback skill at confidence 1.0: "no specific intent" is
// itself a fully-confident intent, not an error.
func (k *KeywordClassifier) Classify(ctx context.Context, message string) []domain.RoutingResult {
	lower := strings.ToLower(message)

	var results []domain.RoutingResult
	for _, s := range k.registry.ListEnabled() {
		if s.IsFallback() {
			continue
		}
		matched := 0
		for _, p := range s.TriggerPatterns {
			if strings.Contains(lower, p) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		confidence := float64(matched)/float64(len(s.TriggerPatterns)) + 0.5
		if confidence > 1.0 {
			confidence = 1.0
		}
		results = append(results, domain.RoutingResult{
			SkillID:          s.ID,
			Confidence:       confidence,
			ExtractedParams:  map[string]string{},
			RequiresApproval: s.AutonomyLevel == domain.AutonomyApprovalRequired,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})

	if len(results) == 0 {
		fb, ok := k.registry.Fallback()
		if !ok {
			// Registry validation guarantees a fallback; reaching this means
			// the registry was never loaded.
			k.logger.Error("no fallback skill in registry")
			return nil
		}
		return []domain.RoutingResult{{
			SkillID:         fb.ID,
			Confidence:      1.0,
			ExtractedParams: map[string]string{},
		}}
	}
	return results
}

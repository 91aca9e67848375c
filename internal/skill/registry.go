// Package skill provides the skill registry: the authoritative, queryable
// set of enabled capability descriptors.
package skill

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"valet/internal/domain"
)

// Registry holds the in-memory skill set. The set is replaced wholesale on
// each Load via atomic pointer swap, so readers during a reload see either
// the old or the new complete list, never a partial one.
type Registry struct {
	store      domain.SkillStore // optional; nil means built-ins only
	overlayDir string            // optional YAML skill overlay directory
	logger     *slog.Logger

	skills atomic.Pointer[[]domain.SkillDescriptor]
	loadMu sync.Mutex // serializes loads; readers are lock-free
}

type RegistryConfig struct {
	Store      domain.SkillStore
	OverlayDir string
	Logger     *slog.Logger
}

func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		store:      cfg.Store,
		overlayDir: cfg.OverlayDir,
		logger:     cfg.Logger,
	}
}

// Load refreshes the skill set from the durable store. On any fetch error,
// empty result, or validation failure the built-in list substitutes, so the
// bot is always routable. Never returns an error; idempotent, last call wins.
func (r *Registry) Load(ctx context.Context) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	skills := r.fetch(ctx)
	skills = r.applyOverlay(skills)

	if err := validateSet(skills); err != nil {
		r.logger.Warn("loaded skill set rejected, using built-ins", "err", err)
		skills = Builtins()
	}

	normalize(skills)
	r.skills.Store(&skills)
	r.logger.Info("skill registry loaded", "count", len(skills))
}

func (r *Registry) fetch(ctx context.Context) []domain.SkillDescriptor {
	if r.store == nil {
		return Builtins()
	}
	skills, err := r.store.FetchEnabledSkills(ctx)
	if err != nil {
		r.logger.Warn("skill store unavailable, using built-ins", "err", err)
		return Builtins()
	}
	if len(skills) == 0 {
		r.logger.Info("skill store empty, using built-ins")
		return Builtins()
	}
	return skills
}

// applyOverlay merges YAML descriptor files over the loaded set: matching
// ids replace in place, new ids append.
func (r *Registry) applyOverlay(skills []domain.SkillDescriptor) []domain.SkillDescriptor {
	if r.overlayDir == "" {
		return skills
	}
	overlay, err := LoadFromDirectory(r.overlayDir, r.logger)
	if err != nil {
		r.logger.Warn("cannot load skill overlay", "dir", r.overlayDir, "err", err)
		return skills
	}
	for _, o := range overlay {
		replaced := false
		for i := range skills {
			if skills[i].ID == o.ID {
				skills[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			skills = append(skills, o)
		}
	}
	return skills
}

// Loaded reports whether a skill set is in memory. The router uses this for
// its load-if-empty behavior.
func (r *Registry) Loaded() bool {
	return r.skills.Load() != nil
}

// GetByID returns the descriptor for id, enabled or not.
func (r *Registry) GetByID(id string) (domain.SkillDescriptor, bool) {
	for _, s := range r.snapshot() {
		if s.ID == id {
			return s, true
		}
	}
	return domain.SkillDescriptor{}, false
}

// ListEnabled returns all enabled descriptors in registry order. Order is
// insertion order from the load source; classifier tie-breaking depends on it.
func (r *Registry) ListEnabled() []domain.SkillDescriptor {
	var enabled []domain.SkillDescriptor
	for _, s := range r.snapshot() {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	return enabled
}

// Fallback returns the single enabled catch-all skill. Validation at load
// time guarantees exactly one exists.
func (r *Registry) Fallback() (domain.SkillDescriptor, bool) {
	for _, s := range r.snapshot() {
		if s.Enabled && s.IsFallback() {
			return s, true
		}
	}
	return domain.SkillDescriptor{}, false
}

func (r *Registry) snapshot() []domain.SkillDescriptor {
	p := r.skills.Load()
	if p == nil {
		return nil
	}
	return *p
}

// validateSet enforces the structural invariant behind fallback routing:
// exactly one enabled skill with an empty trigger vocabulary.
func validateSet(skills []domain.SkillDescriptor) error {
	if len(skills) == 0 {
		return fmt.Errorf("empty skill set")
	}
	seen := make(map[string]bool, len(skills))
	fallbacks := 0
	for _, s := range skills {
		if s.ID == "" {
			return fmt.Errorf("skill with empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate skill id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Enabled && s.IsFallback() {
			fallbacks++
		}
	}
	if fallbacks != 1 {
		return fmt.Errorf("expected exactly one enabled fallback skill, found %d", fallbacks)
	}
	return nil
}

// normalize lowercases trigger patterns once at load time so the keyword
// classifier never re-lowers them per message.
func normalize(skills []domain.SkillDescriptor) {
	for i := range skills {
		for j, p := range skills[i].TriggerPatterns {
			skills[i].TriggerPatterns[j] = strings.ToLower(p)
		}
	}
}

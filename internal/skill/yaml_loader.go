package skill

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"valet/internal/domain"

	"gopkg.in/yaml.v3"
)

// LoadFromDirectory loads skill descriptors from YAML files in a directory.
// Files must have .yaml or .yml extension and conform to the SkillDescriptor
// schema. Unreadable or malformed files are skipped with a warning.
func LoadFromDirectory(dir string, logger *slog.Logger) ([]domain.SkillDescriptor, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("skills directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var skills []domain.SkillDescriptor
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read skill file", "path", path, "err", err)
			continue
		}

		var sk domain.SkillDescriptor
		if err := yaml.Unmarshal(data, &sk); err != nil {
			logger.Warn("cannot parse skill file", "path", path, "err", err)
			continue
		}

		if sk.ID == "" {
			sk.ID = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if sk.AutonomyLevel == "" {
			sk.AutonomyLevel = domain.AutonomyFull
		}

		logger.Info("loaded user skill", "id", sk.ID, "path", path)
		skills = append(skills, sk)
	}

	return skills, nil
}

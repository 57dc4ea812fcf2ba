package skill

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"clawgate/internal/domain"

	"gopkg.in/yaml.v3"
)

var errNoTrigger = errors.New("no trigger")

// LoadDir reads every *.yaml and *.yml file in dir, in name order. A missing
// dir yields no skills; a bad file is logged and skipped.
func LoadDir(dir string, logger *slog.Logger) ([]domain.Skill, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("no skills directory", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			if !e.IsDir() {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}
	sort.Strings(files)

	skills := make([]domain.Skill, 0, len(files))
	for _, path := range files {
		s, err := loadFile(path)
		if err != nil {
			logger.Warn("skipping skill file", "path", path, "err", err)
			continue
		}
		logger.Info("loaded skill", "name", s.Name, "trigger", "/"+s.Trigger, "tools", len(s.Tools))
		skills = append(skills, s)
	}
	return skills, nil
}

// loadFile parses one skill definition. The name defaults to the file's base
// name and a leading slash on the trigger is dropped.
func loadFile(path string) (domain.Skill, error) {
	var s domain.Skill
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse: %w", err)
	}

	if s.Name == "" {
		base := filepath.Base(path)
		s.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	s.Trigger = strings.TrimPrefix(strings.TrimSpace(s.Trigger), "/")
	if s.Trigger == "" {
		return s, errNoTrigger
	}
	s.SystemPrompt = strings.TrimSpace(s.SystemPrompt)
	return s, nil
}

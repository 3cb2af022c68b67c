package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// LocalPath returns the override file that sits next to path:
// visa.yaml becomes visa.local.yaml.
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// LoadFile overlays a YAML run file, and its .local sibling when present, on
// top of cfg. Only non-zero values in the files replace what cfg holds, so a
// file cannot switch a default back to zero.
func LoadFile(path string, cfg *Config) error {
	var fromFile Config
	found, err := readYAML(path, &fromFile)
	if err != nil {
		return err
	}

	localPath := LocalPath(path)
	var local Config
	localFound, err := readYAML(localPath, &local)
	if err != nil {
		return err
	}
	if localFound {
		if err := mergo.Merge(&fromFile, local, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge %s: %w", localPath, err)
		}
		slog.Info("merging config with local overrides", slog.String("local", localPath))
	}

	if !found && !localFound {
		return fmt.Errorf("load config %s: %w", path, os.ErrNotExist)
	}

	if err := mergo.Merge(cfg, fromFile, mergo.WithOverride); err != nil {
		return fmt.Errorf("apply config %s: %w", path, err)
	}
	return nil
}

func readYAML(path string, out *Config) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read config %s: %w", path, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return true, nil
}

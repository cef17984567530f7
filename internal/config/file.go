package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadOrDefault reads the YAML configuration file at path, returning the
// defaults when the file does not exist. Environment variables are applied
// on top in both cases. The second return reports whether a file was read.
func LoadOrDefault(path string) (Settings, bool, error) {
	cfg := Default()
	loaded := false

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Settings{}, false, fmt.Errorf("parse config %s: %w", path, err)
			}
			loaded = true
		case errors.Is(err, fs.ErrNotExist):
			// fall through to defaults
		default:
			return Settings{}, false, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return FromEnv(cfg), loaded, nil
}

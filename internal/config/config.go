// Package config persists user preferences as a single JSON file.
// Unlike the process-level viper configuration, these values are part
// of the product surface and can be changed at runtime over the API.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/parley-dev/parley/internal/models"
)

// Store reads and writes config.json in the state directory.
type Store struct {
	path string
}

// NewStore creates a config store rooted at the given state directory.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, "config.json")}
}

// Update holds the config fields to change. Nil fields keep their
// current value.
type Update struct {
	AuthType *models.AuthType `json:"authType,omitempty"`
	BaseURL  *string          `json:"baseUrl,omitempty"`
	Model    *string          `json:"model,omitempty"`
	Theme    *models.Theme    `json:"theme,omitempty"`
}

// Defaults returns a fully populated default config.
func Defaults() *models.Config {
	return &models.Config{Theme: models.ThemeSystem}
}

// Load returns the stored config, falling back to defaults when the
// file is absent or unparsable. Partial files are merged with defaults
// so every field is total.
func (s *Store) Load() *models.Config {
	cfg := Defaults()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return cfg
	}
	if err != nil {
		slog.Warn("reading config file failed, using defaults", "path", s.path, "error", err)
		return cfg
	}

	var stored models.Config
	if err := json.Unmarshal(data, &stored); err != nil {
		slog.Warn("parsing config file failed, using defaults", "path", s.path, "error", err)
		return cfg
	}

	if stored.AuthType != "" {
		cfg.AuthType = stored.AuthType
	}
	if stored.BaseURL != "" {
		cfg.BaseURL = stored.BaseURL
	}
	if stored.Model != "" {
		cfg.Model = stored.Model
	}
	if validTheme(stored.Theme) {
		cfg.Theme = stored.Theme
	}
	return cfg
}

// Save merges the update onto the current config, validates it, writes
// the whole file, and returns the full object.
func (s *Store) Save(u Update) (*models.Config, error) {
	cfg := s.Load()

	if u.AuthType != nil {
		cfg.AuthType = *u.AuthType
	}
	if u.BaseURL != nil {
		cfg.BaseURL = *u.BaseURL
	}
	if u.Model != nil {
		cfg.Model = *u.Model
	}
	if u.Theme != nil {
		if !validTheme(*u.Theme) {
			return nil, fmt.Errorf("invalid theme: %q", *u.Theme)
		}
		cfg.Theme = *u.Theme
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	if err := writeFileRetry(s.path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write config file: %w", err)
	}
	return cfg, nil
}

func validTheme(t models.Theme) bool {
	switch t {
	case models.ThemeLight, models.ThemeDark, models.ThemeSystem:
		return true
	}
	return false
}

// writeFileRetry writes the file, retrying briefly on Windows when an
// antivirus or editor holds a transient lock on the file.
func writeFileRetry(path string, data []byte, perm os.FileMode) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = os.WriteFile(path, data, perm)
		if err == nil {
			return nil
		}
		if runtime.GOOS != "windows" || !isSharingViolation(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	return err
}

func isSharingViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "being used by another process") ||
		strings.Contains(msg, "sharing violation") ||
		strings.Contains(msg, "access is denied")
}

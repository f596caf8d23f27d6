package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/parley/pkg/model"
	"github.com/NicolasHaas/parley/pkg/protocol"
)

// Settings stores user preferences persisted as YAML next to the binary.
type Settings struct {
	ServerURL   string            `yaml:"server_url"`
	Origin      string            `yaml:"origin,omitempty"`
	Username    string            `yaml:"username"`
	Language    string            `yaml:"language"`
	DisplayName string            `yaml:"display_name,omitempty"`
	Attributes  map[string]string `yaml:"attributes,omitempty"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		ServerURL: "ws://localhost:3002/ws",
		Origin:    "http://localhost:3000",
		Language:  "en",
	}
}

// DefaultSettingsPath is settings.yaml in the executable's directory.
func DefaultSettingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "settings.yaml")
}

// LoadSettings reads settings from path. A missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // user-chosen settings file
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("client: read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("client: parse settings: %w", err)
	}
	return s, nil
}

// Save writes settings to YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks what the server would reject on join.
func (s *Settings) Validate() error {
	if s.ServerURL == "" {
		return errors.New("client: server url is required")
	}
	return errors.Join(model.ValidateIdentity(s.Username), model.ValidateLanguage(s.Language))
}

// JoinRequest builds the join-queue payload for these settings.
func (s *Settings) JoinRequest() protocol.JoinQueueRequest {
	return protocol.JoinQueueRequest{
		Username:   s.Username,
		Language:   s.Language,
		Attributes: s.Attributes,
	}
}

// Display is the name shown to the partner next to each message.
func (s *Settings) Display() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Username
}

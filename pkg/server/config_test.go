package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, ":3002", cfg.Addr())
}

func TestLoadYAML(t *testing.T) {
	req := require.New(t)
	cfg := DefaultConfig()
	req.NoError(cfg.LoadYAML([]byte(`
port: 4000
allowed_origins:
  - https://chat.example
  - http://localhost:3000
pairing_delay: 250ms
cache_backend: sqlite
cache_path: /tmp/parley.db
`)))
	req.Equal(4000, cfg.Port)
	req.Equal([]string{"https://chat.example", "http://localhost:3000"}, cfg.AllowedOrigins)
	req.Equal(250*time.Millisecond, cfg.PairingDelay)
	req.Equal("sqlite", cfg.CacheBackend)
	req.Equal(DefaultConfig().TranslatorURL, cfg.TranslatorURL, "absent keys keep defaults")
	req.NoError(cfg.Validate())

	req.Error(cfg.LoadYAML([]byte("port: [nope")))
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 127.0.0.1\nport: 3100\n"), 0o600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadYAMLFile(path))
	require.Equal(t, "127.0.0.1:3100", cfg.Addr())

	require.Error(t, cfg.LoadYAMLFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestApplyEnv(t *testing.T) {
	req := require.New(t)
	cfg := DefaultConfig()
	req.NoError(cfg.ApplyEnv(env.EnvSet{
		"PORT":                   "8080",
		"ALLOWED_ORIGINS":        "https://a.example/, https://b.example,,https://a.example",
		"TRANSLATOR_URL":         "http://translator:9000/translate",
		"TRANSLATOR_TIMEOUT":     "2s",
		"PAIRING_DELAY":          "50ms",
		"CACHE_BACKEND":          "none",
		"SKIP_DETECTED_LANGUAGE": "true",
		"LOG_LEVEL":              "debug",
	}))
	req.Equal(8080, cfg.Port)
	req.Equal([]string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	req.Equal("http://translator:9000/translate", cfg.TranslatorURL)
	req.Equal(2*time.Second, cfg.TranslatorTimeout)
	req.Equal(50*time.Millisecond, cfg.PairingDelay)
	req.Equal("none", cfg.CacheBackend)
	req.True(cfg.SkipDetected)
	req.Equal("debug", cfg.LogLevel)
	req.Equal(DefaultConfig().SendBuffer, cfg.SendBuffer, "unset variables keep their value")
	req.NoError(cfg.Validate())

	req.Error(cfg.ApplyEnv(env.EnvSet{"PORT": "eighty"}))
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "3999")
	t.Setenv("ALLOWED_ORIGINS", "*")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 3999, cfg.Port)
	require.True(t, cfg.OriginAllowed("https://anything.example"))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too big", func(c *Config) { c.Port = 70000 }},
		{"no origins", func(c *Config) { c.AllowedOrigins = nil }},
		{"blank origin", func(c *Config) { c.AllowedOrigins = []string{""} }},
		{"bad translator url", func(c *Config) { c.TranslatorURL = "not a url" }},
		{"zero timeout", func(c *Config) { c.TranslatorTimeout = 0 }},
		{"negative delay", func(c *Config) { c.PairingDelay = -time.Second }},
		{"no send buffer", func(c *Config) { c.SendBuffer = 0 }},
		{"unknown cache", func(c *Config) { c.CacheBackend = "redis" }},
		{"sqlite without path", func(c *Config) { c.CacheBackend = "sqlite"; c.CachePath = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"http://localhost:3000", "https://Chat.Example/"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://chat.example", true},
		{"https://chat.example/", true},
		{"http://localhost:3001", false},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		if got := cfg.OriginAllowed(tt.origin); got != tt.want {
			t.Errorf("OriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

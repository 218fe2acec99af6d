package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50, cfg.Window.Interval)
	assert.Equal(t, "Aria", cfg.Persona.Name)
	assert.NotEmpty(t, cfg.Capabilities)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Inference.OllamaURL, cfg.Inference.OllamaURL)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aria.yaml")
	raw := `
inference:
  model: qwen2.5:14b
window:
  interval: 20
persona:
  name: Nova
pipeline:
  request_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5:14b", cfg.Inference.Model)
	assert.Equal(t, 20, cfg.Window.Interval)
	assert.Equal(t, "Nova", cfg.Persona.Name)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.RequestTimeout.Std())
	// Untouched sections keep defaults.
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Window.Interval = 0 }},
		{"no workers", func(c *Config) { c.Window.Workers = 0 }},
		{"empty persona name", func(c *Config) { c.Persona.Name = "" }},
		{"duplicate capability", func(c *Config) {
			c.Capabilities = append(c.Capabilities, c.Capabilities[0])
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
api:
  base_url: "http://localhost:3000"
  retry_max: 3
  timeout: "30s"
logging:
  level: "debug"
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: "memory"
  path: ""
http:
  addr: "127.0.0.1:9090"
  allowed_origins:
    - "http://localhost:5173"
dispatch:
  rate_per_sec: 5
report:
  enabled: true
  refresh: "@every 30s"
`)

	mgr := NewConfigManager(path)
	cfg, err := mgr.Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "http://localhost:3000", cfg.API.BaseURL)
	require.Equal(t, 3, cfg.API.RetryMax)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.HTTP.AllowedOrigins)
	require.Equal(t, 5, cfg.Dispatch.RatePerSec)
	require.True(t, cfg.Report.Enabled)

	// Load commits; Get returns the same config
	require.Same(t, cfg, mgr.Get())
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "api": {"base_url": "http://localhost:3000"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"driver": "sqlite", "path": "./test.db"},
  "http": {}
}`)

	mgr := NewConfigManager(path)
	cfg, err := mgr.Load()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: "info"
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: "memory"
  path: ""
typo_section:
  whatever: true
`)

	mgr := NewConfigManager(path)
	_, err := mgr.Parse()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"zero config ok", func(*Config) {}, false},
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }, true},
		{"bad timeout", func(c *Config) { c.API.Timeout = "soon" }, true},
		{"negative timeout", func(c *Config) { c.API.Timeout = "-5s" }, true},
		{"negative amount min", func(c *Config) { c.Dispatch.AmountMin = -1 }, true},
		{"inverted amount range", func(c *Config) { c.Dispatch.AmountMin = 100; c.Dispatch.AmountMax = 50 }, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := &Config{}
			c.mutate(cfg)
			err := cfg.Validate()
			if c.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSubscribePublish(t *testing.T) {
	mgr := NewConfigManager("unused")
	ch := mgr.Subscribe(1)
	defer mgr.Unsubscribe(ch)

	cfg := &Config{}
	mgr.publish(cfg)
	select {
	case got := <-ch:
		require.Same(t, cfg, got)
	default:
		t.Fatal("subscriber did not receive the published config")
	}

	// a slow subscriber gets the newest config, not the oldest
	first, second := &Config{}, &Config{}
	mgr.publish(first)
	mgr.publish(second)
	require.Same(t, second, <-ch)
}

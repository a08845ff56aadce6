package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fireedge-server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":2616", cfg.Server.Listen)
	assert.Equal(t, 3*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, "oneprovision", cfg.Provision.Command)
	assert.EqualValues(t, 4, cfg.Provision.MaxConcurrent)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: "127.0.0.1:9000"
  cors_origins: ["https://console.example.com"]
auth:
  hmac_secret: "`+testSecret+`"
  session_ttl: 1h
engine:
  endpoint: "http://engine:2633/RPC2"
provision:
  max_concurrent: 2
  job_timeout: 30m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, []string{"https://console.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.RememberTTL, "unset keys keep defaults")
	assert.Equal(t, "http://engine:2633/RPC2", cfg.Engine.Endpoint)
	assert.EqualValues(t, 2, cfg.Provision.MaxConcurrent)
	assert.Equal(t, 30*time.Minute, cfg.Provision.JobTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"FIREEDGE_LISTEN":                   ":8080",
		"FIREEDGE_HMAC_SECRET":              testSecret,
		"FIREEDGE_CORS_ORIGINS":             "https://a.example, ,https://b.example",
		"FIREEDGE_SUPPORT_ENABLED":          "true",
		"FIREEDGE_PROVISION_MAX_CONCURRENT": "8",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, testSecret, cfg.Auth.HMACSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Support.Enabled)
	assert.EqualValues(t, 8, cfg.Provision.MaxConcurrent)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "FIREEDGE_SUPPORT_ENABLED" {
			return "maybe", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.Auth.HMACSecret = "" }, wantErr: "hmac_secret is required"},
		{name: "short secret", mutate: func(c *Config) { c.Auth.HMACSecret = "short" }, wantErr: "at least 32 bytes"},
		{name: "bad engine endpoint", mutate: func(c *Config) { c.Engine.Endpoint = "engine:2633" }, wantErr: "engine.endpoint"},
		{name: "support endpoint checked only when enabled", mutate: func(c *Config) { c.Support.Endpoint = "nope" }},
		{name: "bad support endpoint", mutate: func(c *Config) {
			c.Support.Enabled = true
			c.Support.Endpoint = "nope"
		}, wantErr: "support.endpoint"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Provision.MaxConcurrent = 0 }, wantErr: "max_concurrent"},
		{name: "empty listen", mutate: func(c *Config) { c.Server.Listen = "" }, wantErr: "server.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.HMACSecret = testSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
		})
	}
}

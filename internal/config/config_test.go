package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.Session.HandshakeTimeout)
	assert.Equal(t, 64, cfg.Session.OutboundBuffer)
	assert.Equal(t, "error", cfg.Compiler.Collision)
	assert.Equal(t, 12, cfg.Compiler.MinHintWords)
	assert.Equal(t, "/v0", cfg.API.BasePath)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  address: ws://peer.example:7420/agent
evaluator:
  timeout: 2s
webhooks:
  - url: https://hooks.example/trackway
    events: [session.close]
    enabled: true
`))
	require.NoError(t, err)
	assert.Equal(t, "ws://peer.example:7420/agent", cfg.Server.Address)
	assert.Equal(t, 2*time.Second, cfg.Evaluator.Timeout)
	assert.Equal(t, 64, cfg.Session.OutboundBuffer)
	require.Len(t, cfg.Webhooks, 1)
	assert.True(t, cfg.Webhooks[0].Enabled)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"address scheme":   "server: {address: localhost:1}",
		"collision":        "compiler: {collision: merge}",
		"log level":        "log: {level: loud}",
		"log format":       "log: {format: xml}",
		"negative timeout": "evaluator: {timeout: -1s}",
		"webhook url":      "webhooks: [{events: [x]}]",
		"peer path":        "peer: {path: agent}",
		"bad yaml":         "server: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "trackway.yml"), []byte("log: {level: debug}\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, filepath.Join(dir, "trackway.yml"), Path(dir))
}

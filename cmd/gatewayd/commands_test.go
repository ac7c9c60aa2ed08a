package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/interaction-gateway/gateway/config"
)

func run(t *testing.T, args ...string) (string, error) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCmd(t *testing.T) {
	home := t.TempDir()

	out, err := run(t, "init", "--home", home)
	require.NoError(t, err)
	assert.Contains(t, out, config.FilePath(home))

	data, err := os.ReadFile(filepath.Join(home, "config", "gateway_config.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ledger_node_url"`)

	_, err = run(t, "init", "--home", home)
	require.ErrorContains(t, err, "already exists")

	_, err = run(t, "init", "--home", home, "--force")
	require.NoError(t, err)
}

func TestLoadConfigPrefersExplicitPath(t *testing.T) {
	home := t.TempDir()
	_, err := run(t, "init", "--home", home)
	require.NoError(t, err)

	custom := filepath.Join(t.TempDir(), "custom.json")
	require.NoError(t, os.WriteFile(custom, []byte(`{"query_server_port": 9191}`), 0o600))

	cmd := NewRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set(flagHome, home))
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.QueryServerPort)

	require.NoError(t, cmd.PersistentFlags().Set(flagConfig, custom))
	cfg, err = loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.QueryServerPort)
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gatewayd")
	assert.Contains(t, out, Version)
}

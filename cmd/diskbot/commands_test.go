package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/justyntemme/diskbot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, verbose = "", false
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "diskbot "+Version+"\n", out)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	out, err := execute(t, "init-config", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg, err := config.Parse(data, ".toml")
	require.NoError(t, err)
	assert.Equal(t, "Your token", cfg.Token)
}

func TestServeCreatesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	_, err := execute(t, "serve", "-c", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrTemplateCreated))
	assert.FileExists(t, path)
}

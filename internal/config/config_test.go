package config

import (
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	home, err := homedir.Dir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), cfg.SSH.IdentityFile)
	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519.pub"), cfg.SSH.PublicKeyFile)
	assert.Equal(t, "github.com", cfg.SSH.GitHost)

	assert.Equal(t, "unix:///var/run/docker.sock", cfg.Engine.LocalSocket)
	assert.Equal(t, 30, cfg.Engine.WaitAttempts)
	assert.Equal(t, "rdock-rsync", cfg.Engine.HelperImage)
	assert.Equal(t, "/tmp/rdock", cfg.Engine.MetadataDir)

	assert.Equal(t, 8787, cfg.Workload.LocalPort)
	assert.Equal(t, "docker", cfg.Workload.BuildDir)
	assert.Equal(t, "rdock.yaml", cfg.Workload.ManifestFile)

	assert.Equal(t, 16, cfg.Resources.HighComputeCPUs)
	assert.Equal(t, "64g", cfg.Resources.HighComputeMemory)
}

func TestConnectTimeoutDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{name: "valid", value: "30s", expected: "30s"},
		{name: "invalid falls back", value: "soon", expected: "15s"},
		{name: "empty falls back", value: "", expected: "15s"},
		{name: "negative falls back", value: "-5s", expected: "15s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &SSH{ConnectTimeout: tt.value}
			assert.Equal(t, tt.expected, s.ConnectTimeoutDuration().String())
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "./scripts", cfg.Watch.Dir)
	assert.Equal(t, ".scr", cfg.Watch.Extension)
	assert.Equal(t, 19720, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.False(t, cfg.Cluster.Enabled)
	assert.Equal(t, "round-robin", cfg.Cluster.DispatchStrategy)
}

func TestLoadOverlaysConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scriptd.yaml")
	content := "watch:\n  dir: /opt/scripts\nserver:\n  port: 9000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	v.SetConfigFile(path)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/opt/scripts", cfg.Watch.Dir)
	assert.Equal(t, 9000, cfg.Server.Port)
	// Unset keys keep their defaults even when a config file is present.
	assert.Equal(t, ".scr", cfg.Watch.Extension)
	assert.True(t, cfg.Auth.Enabled)
}

func TestLoadWithoutConfigFileFallsBackToDefaults(t *testing.T) {
	v := viper.New()
	v.SetConfigName("nonexistent-scriptd-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(t.TempDir())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestServerConfigHasTLS(t *testing.T) {
	cases := []struct {
		name string
		cfg  ServerConfig
		want bool
	}{
		{"neither set", ServerConfig{}, false},
		{"cert only", ServerConfig{TLSCertPath: "cert.pem"}, false},
		{"both set", ServerConfig{TLSCertPath: "cert.pem", TLSKeyPath: "key.pem"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.cfg.HasTLS())
		})
	}
}

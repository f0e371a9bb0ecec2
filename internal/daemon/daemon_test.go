package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/scriptd/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Watch.Dir = filepath.Join(dir, "scripts")
	cfg.Auth.Enabled = false
	cfg.Auth.KeyFilePath = filepath.Join(dir, "keys.json")
	cfg.LogDir = ""
	cfg.Server.Port = 0 // let listenWithRetry pick an ephemeral port
	return cfg
}

func TestNewWiresEveryComponent(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, "test")
	require.NoError(t, err)

	assert.NotNil(t, d.registry)
	assert.NotNil(t, d.queue)
	assert.NotNil(t, d.engine)
	assert.NotNil(t, d.server)
	assert.Nil(t, d.membership, "clustering disabled by default, membership should not be built")
	assert.Nil(t, d.dispatcher)

	info, err := os.Stat(cfg.Watch.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewBuildsClusterComponentsWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cluster.Enabled = true

	d, err := New(cfg, "test")
	require.NoError(t, err)

	assert.NotNil(t, d.membership)
	assert.NotNil(t, d.dispatcher)
	assert.NotEmpty(t, d.membership.Self().ID, "node id should be generated when unset")
}

func TestLoadScriptsFromDiskPicksUpExistingFiles(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Watch.Dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Watch.Dir, "hello.scr"), []byte("click(1,1)"), 0o644))

	d, err := New(cfg, "test")
	require.NoError(t, err)

	require.NoError(t, d.loadScriptsFromDisk())
	assert.Equal(t, 1, d.registry.Len())
}

func TestReloadRescansWatchDir(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, "test")
	require.NoError(t, err)
	require.NoError(t, d.loadScriptsFromDisk())
	assert.Equal(t, 0, d.registry.Len())

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Watch.Dir, "added.scr"), []byte("click(2,2)"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Reload(ctx))
	assert.Equal(t, 1, d.registry.Len())
}

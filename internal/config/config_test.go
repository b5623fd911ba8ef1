package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "moshaver.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.SyncResetDelay)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Server.RequireConfirm)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("MOSHAVER_DBPATH", "/tmp/x.db")
	t.Setenv("MOSHAVER_ACCESSTTL", "15m")
	t.Setenv("MOSHAVER_REQUIRECONFIRM", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 15*time.Minute, cfg.Server.AccessTTL)
	assert.False(t, cfg.Server.RequireConfirm)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MOSHAVER_CLOUDURL=https://cloud.example\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MOSHAVER_CLOUDURL") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://cloud.example", cfg.CloudURL)
}

func TestServerValidate(t *testing.T) {
	assert.Error(t, Server{JWTSecret: "short", AccessTTL: time.Hour}.Validate())
	assert.NoError(t, Server{JWTSecret: "0123456789abcdef0123456789abcdef", AccessTTL: time.Hour}.Validate())
}

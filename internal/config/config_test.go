package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv(SecretEnvVar, "")

	cfg, err := Parse([]byte("vault:\n  secret: s3cret\n"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "https://discord.com/api/v10", cfg.Discord.APIBase)
	assert.Equal(t, 30*time.Second, cfg.Discord.Timeout)
	assert.Equal(t, 100, cfg.Worker.PageSize)
	assert.Equal(t, 50, cfg.Worker.CheckpointEvery)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.DeleteDelay)
	assert.Equal(t, "process", cfg.Worker.Launcher)
	assert.Equal(t, 24*time.Hour, cfg.Vault.MediaURLTTL)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestParseDurationsAndEnv(t *testing.T) {
	t.Setenv("ARCHIVIST_TEST_DB_PASSWORD", "hunter2")
	t.Setenv(SecretEnvVar, "from-env")

	cfg, err := Parse([]byte(`
database:
  driver: mysql
  password: ${ARCHIVIST_TEST_DB_PASSWORD}
vault:
  secret: from-file
worker:
  delete_delay: 250ms
  checkpoint_every: 10
scheduler:
  timezone: Europe/Berlin
`))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "from-env", cfg.Vault.Secret)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.DeleteDelay)
	assert.Equal(t, 10, cfg.Worker.CheckpointEvery)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestParseRejectsInvalid(t *testing.T) {
	t.Setenv(SecretEnvVar, "")

	tests := []struct {
		name string
		yaml string
	}{
		{"missing secret", "log:\n  level: debug\n"},
		{"bad driver", "vault:\n  secret: x\ndatabase:\n  driver: oracle\n"},
		{"bad launcher", "vault:\n  secret: x\nworker:\n  launcher: shell\n"},
		{"page too large", "vault:\n  secret: x\nworker:\n  page_size: 500\n"},
		{"bad timezone", "vault:\n  secret: x\nscheduler:\n  timezone: Mars/Olympus\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv(SecretEnvVar, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vault:\n  secret: abc\nstorage:\n  root: /srv/archive\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/archive", cfg.Storage.Root)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

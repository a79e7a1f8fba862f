package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ".tend/tend.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Sweep.Workers)
	assert.Empty(t, cfg.NATS.URL, "NATS is off by default")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"bad cron", func(c *Config) { c.Sweep.Schedule = "every day" }, "sweep.schedule"},
		{"six fields", func(c *Config) { c.Sweep.Schedule = "0 5 0 * * *" }, "sweep.schedule"},
		{"no workers", func(c *Config) { c.Sweep.Workers = 0 }, "sweep.workers"},
		{"bad zone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"no db", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"no snapshot path", func(c *Config) { c.Database.SnapshotPath = "" }, "snapshot_path"},
		{"nats without prefix", func(c *Config) { c.NATS.URL = "nats://localhost:4222"; c.NATS.SubjectPrefix = "" }, "subject_prefix"},
		{"no owner", func(c *Config) { c.Owner = "" }, "owner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg := DefaultConfig()
	cfg.Timezone = "Europe/Berlin"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "tend.yaml")
	cfg := DefaultConfig()
	cfg.Owner = "alex"
	cfg.NATS.URL = "nats://localhost:4222"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.AutoSnapshot = false
	cfg.Merge(&Config{
		Timezone: "America/New_York",
		Database: DatabaseConfig{AutoSnapshot: true},
		Sweep:    SweepConfig{Workers: 8},
	})

	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, 8, cfg.Sweep.Workers)
	assert.Equal(t, "5 0 * * *", cfg.Sweep.Schedule, "zero values keep the current setting")
	assert.True(t, cfg.Database.AutoSnapshot)

	cfg.Merge(nil)
	assert.Equal(t, 8, cfg.Sweep.Workers)
}

func TestLoaderLayers(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	userPath := filepath.Join(home, UserConfigDir, UserConfigFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0755))
	require.NoError(t, os.WriteFile(userPath, []byte("owner: alex\nsweep:\n  workers: 2\n"), 0644))

	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ProjectConfigFile), []byte("sweep:\n  workers: 6\ntimezone: Europe/Paris\n"), 0644))
	nested := filepath.Join(project, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	t.Chdir(nested)

	loader := NewLoader(slog.New(slog.NewTextHandler(io.Discard, nil)))
	cfg, err := loader.Load("")
	require.NoError(t, err)
	assert.Equal(t, "alex", cfg.Owner, "from the user file")
	assert.Equal(t, 6, cfg.Sweep.Workers, "the project file wins over the user file")
	assert.Equal(t, "Europe/Paris", cfg.Timezone)

	explicit := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("sweep:\n  workers: 1\n"), 0644))
	cfg, err = loader.Load(explicit)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Sweep.Workers)

	_, err = loader.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sweep:\n  schedule: nonsense\n"), 0644))
	_, err = loader.Load(bad)
	assert.ErrorContains(t, err, "sweep.schedule")
}

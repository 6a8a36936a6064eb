package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"synapse/config"
)

func validConfig() *config.Config {
	cfg := config.Default()
	cfg.UserID = "u1"
	cfg.RemoteURL = "https://sync.example.com"
	return cfg
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synapse.toml")
	file := `
db_driver = "sqlite3"
db_path = "/tmp/notes.db"
user_id = "from-file"
remote_url = "https://file.example.com"
poll_interval = "2s"
coordinator = false
`
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYNAPSE_CONFIG", path)
	t.Setenv("SYNAPSE_USER_ID", "from-env")
	t.Setenv("SYNAPSE_SYNC_INTERVAL", "1m")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DBDriver != "sqlite3" || cfg.DBPath != "/tmp/notes.db" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.UserID != "from-env" {
		t.Errorf("expected env to override the file, got %q", cfg.UserID)
	}
	if cfg.PollInterval != 2*time.Second || cfg.SyncInterval != time.Minute {
		t.Errorf("unexpected intervals: poll %v sync %v", cfg.PollInterval, cfg.SyncInterval)
	}
	if cfg.CoordinatorEnabled {
		t.Error("expected coordinator disabled by the file")
	}
	if cfg.RetryDelay != 10*time.Second {
		t.Errorf("expected default retry delay, got %v", cfg.RetryDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config: %v", err)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	tests := []struct{ key, value string }{
		{"SYNAPSE_SYNC_INTERVAL", "often"},
		{"SYNAPSE_BACKUP_KEEP", "many"},
		{"SYNAPSE_COORDINATOR", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := config.Load(); err == nil {
				t.Errorf("expected %s=%q to fail", tt.key, tt.value)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("SYNAPSE_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
	if _, err := config.Load(); err == nil {
		t.Error("expected a named but missing config file to fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		ok     bool
	}{
		{"valid", func(c *config.Config) {}, true},
		{"unknown driver", func(c *config.Config) { c.DBDriver = "postgres" }, false},
		{"missing user", func(c *config.Config) { c.UserID = "" }, false},
		{"missing remote", func(c *config.Config) { c.RemoteURL = "" }, false},
		{"relative remote", func(c *config.Config) { c.RemoteURL = "sync.example.com" }, false},
		{"fast sync", func(c *config.Config) { c.SyncInterval = time.Second }, false},
		{"short secret", func(c *config.Config) { c.JWTSecret = "short" }, false},
		{"bad log level", func(c *config.Config) { c.LogLevel = "loud" }, false},
		{"no backups", func(c *config.Config) { c.BackupDir = ""; c.BackupInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("expected ok=%v, got %v", tt.ok, err)
			}
		})
	}
}

func TestDefaultSyncInterval(t *testing.T) {
	cfg := validConfig()
	if cfg.SyncInterval != 5*time.Second {
		t.Errorf("expected default sync interval 5s, got %v", cfg.SyncInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

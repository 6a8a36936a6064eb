package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Configuration
//
// Settings come from an optional TOML file named by SYNAPSE_CONFIG, then
// SYNAPSE_* environment variables override individual keys.
// ============================================================================

const (
	defaultSyncInterval   = 5 * time.Second
	defaultPollInterval   = 5 * time.Second
	defaultRetryDelay     = 10 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultBackupInterval = 5 * time.Minute
	defaultBackupKeep     = 10
)

// Config holds everything the binary needs.
type Config struct {
	DBDriver string `toml:"db_driver"` // SYNAPSE_DB_DRIVER: duckdb or sqlite3
	DBPath   string `toml:"db_path"`   // SYNAPSE_DB_PATH

	UserID         string        `toml:"user_id"`         // SYNAPSE_USER_ID
	RemoteURL      string        `toml:"remote_url"`      // SYNAPSE_REMOTE_URL
	Token          string        `toml:"token"`           // SYNAPSE_TOKEN
	SyncInterval   time.Duration `toml:"sync_interval"`   // SYNAPSE_SYNC_INTERVAL
	PollInterval   time.Duration `toml:"poll_interval"`   // SYNAPSE_POLL_INTERVAL
	RetryDelay     time.Duration `toml:"retry_delay"`     // SYNAPSE_RETRY_DELAY
	RequestTimeout time.Duration `toml:"request_timeout"` // SYNAPSE_REQUEST_TIMEOUT

	BackupDir        string        `toml:"backup_dir"`        // SYNAPSE_BACKUP_DIR
	BackupInterval   time.Duration `toml:"backup_interval"`   // SYNAPSE_BACKUP_INTERVAL
	BackupKeep       int           `toml:"backup_keep"`       // SYNAPSE_BACKUP_KEEP
	BackupPassphrase string        `toml:"backup_passphrase"` // SYNAPSE_BACKUP_PASSPHRASE

	HTTPAddr  string `toml:"http_addr"`  // SYNAPSE_HTTP_ADDR
	WSAddr    string `toml:"ws_addr"`    // SYNAPSE_WS_ADDR; coordinator websocket, empty disables it
	JWTSecret string `toml:"jwt_secret"` // SYNAPSE_JWT_SECRET; empty leaves the local API open

	LogLevel           string `toml:"log_level"`   // SYNAPSE_LOG_LEVEL
	CoordinatorEnabled bool   `toml:"coordinator"` // SYNAPSE_COORDINATOR
}

// Default returns a config with every optional key filled in.
func Default() *Config {
	dataDir := "data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".synapse")
	}
	return &Config{
		DBDriver:           "duckdb",
		DBPath:             filepath.Join(dataDir, "synapse.ddb"),
		SyncInterval:       defaultSyncInterval,
		PollInterval:       defaultPollInterval,
		RetryDelay:         defaultRetryDelay,
		RequestTimeout:     defaultRequestTimeout,
		BackupDir:          filepath.Join(dataDir, "backups"),
		BackupInterval:     defaultBackupInterval,
		BackupKeep:         defaultBackupKeep,
		HTTPAddr:           "127.0.0.1:8765",
		WSAddr:             "127.0.0.1:8766",
		LogLevel:           "info",
		CoordinatorEnabled: true,
	}
}

// Load builds the config from defaults, the optional file and the
// environment, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("SYNAPSE_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, serr.Wrap(err, "failed to read config file "+path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"SYNAPSE_DB_DRIVER":         &c.DBDriver,
		"SYNAPSE_DB_PATH":           &c.DBPath,
		"SYNAPSE_USER_ID":           &c.UserID,
		"SYNAPSE_REMOTE_URL":        &c.RemoteURL,
		"SYNAPSE_TOKEN":             &c.Token,
		"SYNAPSE_BACKUP_DIR":        &c.BackupDir,
		"SYNAPSE_BACKUP_PASSPHRASE": &c.BackupPassphrase,
		"SYNAPSE_HTTP_ADDR":         &c.HTTPAddr,
		"SYNAPSE_WS_ADDR":           &c.WSAddr,
		"SYNAPSE_JWT_SECRET":        &c.JWTSecret,
		"SYNAPSE_LOG_LEVEL":         &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"SYNAPSE_SYNC_INTERVAL":   &c.SyncInterval,
		"SYNAPSE_POLL_INTERVAL":   &c.PollInterval,
		"SYNAPSE_RETRY_DELAY":     &c.RetryDelay,
		"SYNAPSE_REQUEST_TIMEOUT": &c.RequestTimeout,
		"SYNAPSE_BACKUP_INTERVAL": &c.BackupInterval,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return serr.Wrap(err, "invalid "+key+" value, expected duration like '5m' or '30s'")
		}
		*dst = d
	}

	if v := os.Getenv("SYNAPSE_BACKUP_KEEP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return serr.Wrap(err, "invalid SYNAPSE_BACKUP_KEEP value, expected an integer")
		}
		c.BackupKeep = n
	}
	if v := os.Getenv("SYNAPSE_COORDINATOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return serr.Wrap(err, "invalid SYNAPSE_COORDINATOR value, expected true/false")
		}
		c.CoordinatorEnabled = b
	}
	return nil
}

// Validate fails fast on a config the binary cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "duckdb", "sqlite3":
	default:
		return serr.New("db_driver must be duckdb or sqlite3, got " + c.DBDriver)
	}
	if c.DBPath == "" {
		return serr.New("db_path is required")
	}
	if c.UserID == "" {
		return serr.New("user_id is required")
	}

	if c.RemoteURL == "" {
		return serr.New("remote_url is required")
	}
	u, err := url.Parse(c.RemoteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return serr.New("remote_url must be an absolute http(s) URL")
	}

	if c.SyncInterval < 5*time.Second {
		return serr.New("sync_interval must be at least 5s")
	}
	if c.PollInterval < time.Second {
		return serr.New("poll_interval must be at least 1s")
	}
	if c.RetryDelay <= 0 || c.RequestTimeout <= 0 {
		return serr.New("retry_delay and request_timeout must be positive")
	}
	if c.BackupDir != "" && c.BackupInterval < time.Minute {
		return serr.New("backup_interval must be at least 1m")
	}
	if c.BackupKeep < 0 {
		return serr.New("backup_keep cannot be negative")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return serr.New("jwt_secret must be at least 32 bytes")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return serr.New("log_level must be one of debug, info, warn, error")
	}
	return nil
}

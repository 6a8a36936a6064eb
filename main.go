package main

import (
	"context"
	"os"

	"synapse/backup"
	"synapse/config"
	"synapse/store"
	"synapse/syncer"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "synapse",
	Short: "Offline-first sync engine for a personal knowledge base",
	Long: `Synapse keeps a local copy of your notes, tags and knowledge graph,
records every local change in an operation log, and replicates with the sync
server whenever it is reachable.

Configuration is read from the TOML file named by --config (or SYNAPSE_CONFIG),
then SYNAPSE_* environment variables override individual keys.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			return os.Setenv("SYNAPSE_CONFIG", configPath)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the per-user bundle every command starts from.
type app struct {
	cfg     *config.Config
	store   *store.Store
	remote  *syncer.HTTPRemote
	backups *backup.Manager // nil when backups are disabled
	engine  *syncer.Engine
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, serr.Wrap(err, "invalid configuration")
	}
	logger.SetLogLevel(cfg.LogLevel)
	return cfg, nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Options{Driver: cfg.DBDriver, Path: cfg.DBPath})
	if err != nil {
		return nil, serr.Wrap(err, "failed to open local store")
	}

	rt := &app{
		cfg:    cfg,
		store:  st,
		remote: syncer.NewHTTPRemote(cfg.RemoteURL, cfg.Token, cfg.RequestTimeout),
	}

	engOpts := syncer.Options{UserID: cfg.UserID}
	if cfg.BackupDir != "" {
		rt.backups, err = backup.NewManager(st, backup.Options{
			Dir:        cfg.BackupDir,
			UserID:     cfg.UserID,
			Keep:       cfg.BackupKeep,
			Passphrase: cfg.BackupPassphrase,
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		engOpts.Backups = rt.backups
	}

	rt.engine = syncer.New(st, rt.remote, engOpts)
	return rt, nil
}

func (rt *app) Close() {
	rt.engine.StopAutoSync()
	if err := rt.store.Close(); err != nil {
		logger.LogErr(err, "failed to close local store")
	}
}

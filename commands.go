package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"synapse/syncer"
	"synapse/web"

	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"
)

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	Long: `Push pending local operations, then pull remote changes since the
last checkpoint. On a fresh store the server snapshot is imported first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		rt, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.engine.InitialSync(ctx)
		if err != nil {
			return serr.Wrap(err, "initial sync failed")
		}
		if n > 0 {
			fmt.Printf("Imported %d rows from the server snapshot\n", n)
		}

		res, err := rt.engine.Sync(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Pushed %d, pulled %d, failed %d\n", res.Pushed, res.Pulled, res.Failed)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending operations, checkpoint and recent conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		rt, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		checkpoint, err := rt.store.Checkpoint(ctx, rt.cfg.UserID)
		if err != nil {
			return err
		}
		conflicts, err := rt.store.ListConflicts(ctx, 10)
		if err != nil {
			return err
		}

		out := struct {
			UserID     string        `json:"user_id"`
			Status     syncer.Status `json:"status"`
			Checkpoint int64         `json:"checkpoint"`
			Conflicts  any           `json:"recent_conflicts"`
			Backups    any           `json:"backups,omitempty"`
		}{
			UserID:     rt.cfg.UserID,
			Status:     rt.engine.Status(ctx),
			Checkpoint: checkpoint,
			Conflicts:  conflicts,
		}
		if rt.backups != nil {
			if out.Backups, err = rt.backups.List(); err != nil {
				return err
			}
		}
		return printJSON(out)
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a backup of the local store now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		rt, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		if rt.backups == nil {
			return serr.New("backups are disabled, set backup_dir")
		}

		path, err := rt.backups.Take(ctx)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore a backup file into the local store",
	Long: `Upsert every row of a backup into the local store. A bare file name is
looked up in the backup directory. Sealed backups need backup_passphrase.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		rt, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		if rt.backups == nil {
			return serr.New("backups are disabled, set backup_dir")
		}

		path := args[0]
		if filepath.Base(path) == path {
			if _, err := os.Stat(path); err != nil {
				path = filepath.Join(rt.backups.Dir(), path)
			}
		}

		n, err := rt.backups.Restore(ctx, path)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %d rows from %s\n", n, path)
		return nil
	},
}

var compactOlderThan time.Duration

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Purge confirmed deletes and prune old synced log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		rt, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		purged, err := rt.store.PurgeTombstones(ctx)
		if err != nil {
			return err
		}
		pruned, err := rt.store.PruneSyncedOperations(ctx, time.Now().Add(-compactOlderThan).UnixMilli())
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d tombstoned entities, pruned %d log entries\n", purged, pruned)
		return nil
	},
}

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the local API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return serr.New("jwt_secret is not set, the local API is open")
		}
		tokens, err := web.NewTokens(cfg.JWTSecret)
		if err != nil {
			return err
		}
		signed, err := tokens.Issue(cfg.UserID, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(signed)
		return nil
	},
}

func init() {
	compactCmd.Flags().DurationVar(&compactOlderThan, "older-than", 30*24*time.Hour, "keep synced log entries newer than this")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", web.DefaultTokenTTL, "token lifetime")

	rootCmd.AddCommand(syncCmd, statusCmd, backupCmd, restoreCmd, compactCmd, tokenCmd)
}

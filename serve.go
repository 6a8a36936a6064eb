package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"synapse/coordinator"
	"synapse/session"
	"synapse/web"
	"synapse/web/api"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync session, local API and tab coordinator",
	Long: `Start a long-running session for the configured user:

  1. Seeds the local store from the server on first run
  2. Starts the tab coordinator and its websocket endpoint (ws_addr)
  3. Joins the coordinator, or falls back to timed auto sync
  4. Takes periodic backups when backup_dir is set
  5. Serves the local API and status page on http_addr

Being offline is not an error: local reads and writes keep working and
pending operations are pushed once the server is reachable again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	rt, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.cfg

	var coord *coordinator.Coordinator
	if cfg.CoordinatorEnabled {
		coord = coordinator.New(rt.engine, coordinator.Options{
			PollInterval: cfg.PollInterval,
			RetryDelay:   cfg.RetryDelay,
		})
		coord.Start(ctx)
		defer coord.Stop()
	}

	sess := session.New(rt.engine, session.Options{
		SyncInterval:   cfg.SyncInterval,
		Coordinator:    coord,
		Backups:        rt.backups,
		BackupInterval: cfg.BackupInterval,
	})
	if err := sess.Start(ctx); err != nil {
		return serr.Wrap(err, "failed to start session")
	}
	defer sess.Stop()

	var tokens *web.Tokens
	if cfg.JWTSecret != "" {
		if tokens, err = web.NewTokens(cfg.JWTSecret); err != nil {
			return err
		}
	}

	srv := web.NewServer(web.Options{
		Address: cfg.HTTPAddr,
		Tokens:  tokens,
		UserID:  cfg.UserID,
	}, api.New(api.Deps{
		Store:   rt.store,
		Session: sess,
		Backups: rt.backups,
		UserID:  cfg.UserID,
	}))

	g, gctx := errgroup.WithContext(ctx)

	// rweb has no shutdown hook; its goroutine ends with the process.
	webErr := make(chan error, 1)
	go func() { webErr <- web.Run(srv, cfg.HTTPAddr) }()
	g.Go(func() error {
		select {
		case err := <-webErr:
			return serr.Wrap(err, "local API stopped")
		case <-gctx.Done():
			return nil
		}
	})

	if coord != nil && cfg.WSAddr != "" {
		wsSrv := newWSServer(cfg.WSAddr, cfg.HTTPAddr, coord)
		g.Go(func() error {
			logger.Info("Coordinator websocket listening", "address", cfg.WSAddr)
			if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return serr.Wrap(err, "coordinator websocket stopped")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return wsSrv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("Synapse running", "user_id", cfg.UserID, "http_addr", cfg.HTTPAddr,
		"coordinator", coord != nil)

	err = g.Wait()
	logger.Info("Synapse shutting down")
	return err
}

// newWSServer serves the coordinator bridge at /ws. Pages served from the
// local API are the expected origin.
func newWSServer(addr, apiAddr string, coord *coordinator.Coordinator) *http.Server {
	origins := []string{"localhost:*", "127.0.0.1:*"}
	if host, _, err := net.SplitHostPort(apiAddr); err == nil && host != "" {
		origins = append(origins, host+":*")
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", coordinator.NewWSBridge(coord, origins...))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

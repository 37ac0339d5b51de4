package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/WylieDituri/modmail-sync/internal/backend"
	"github.com/WylieDituri/modmail-sync/internal/channel"
	"github.com/WylieDituri/modmail-sync/internal/config"
	"github.com/WylieDituri/modmail-sync/internal/dispatcher"
	"github.com/WylieDituri/modmail-sync/internal/engine"
	"github.com/WylieDituri/modmail-sync/internal/ledger"
	"github.com/WylieDituri/modmail-sync/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "modmail-sync.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if cfg.Backend.URL == "" {
		return fmt.Errorf("backend.url is not configured (run 'modmail-sync setup')")
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Backend client
	client := backend.New(cfg.Backend.URL, cfg.Backend.AuthCookie)

	// Ledger, drafts, dispatcher
	led := ledger.New()
	drafts := dispatcher.NewDraftStore()
	disp := dispatcher.New(client, led, drafts, dispatcher.Moderator{
		ID:       cfg.Moderator.ID,
		Username: cfg.Moderator.Username,
	})

	// Engine; the channel callbacks are bound after the adapter exists.
	var refetchFn func()
	var foregroundFn func(bool)
	eng := engine.New(led, disp, drafts,
		engine.WithRefetch(func() {
			if refetchFn != nil {
				refetchFn()
			}
		}),
		engine.WithForeground(func(fg bool) {
			if foregroundFn != nil {
				foregroundFn(fg)
			}
		}),
	)
	defer eng.Close()

	events := channel.Events{
		OnSnapshot:     eng.ApplySnapshot,
		OnConnectivity: eng.SetConnectivity,
	}

	// Update channel
	pollInterval := time.Duration(cfg.Channel.PollIntervalSeconds) * time.Second
	var adapter channel.Adapter
	switch cfg.Channel.Mode {
	case "poll":
		poller := channel.NewPoller(client, pollInterval, events)
		refetchFn = poller.Kick
		foregroundFn = poller.SetForeground
		adapter = poller
	default:
		policy := channel.DefaultReconnectPolicy()
		if cfg.Channel.ReconnectAttempts > 0 {
			policy.MaxAttempts = cfg.Channel.ReconnectAttempts
		}
		adapter = channel.NewStreamer(client.EventsURL(), client.Cookie(), client, policy, events)
		refetchFn = func() {
			go func() {
				snap, fetched, err := client.FetchIfStale(ctx, 0)
				if err != nil {
					slog.Warn("manual refetch failed", "error", err)
					return
				}
				if fetched {
					eng.ApplySnapshot(snap)
				}
			}()
		}
	}

	go func() {
		if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("update channel stopped", "error", err)
		}
	}()

	// Periodic ledger sweep against the applied snapshot
	sweeper := ledger.NewSweeper(led, eng.AuthoritativeSessions, eng.RefreshView)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	// HTTP surface
	if cfg.HTTP.Enabled {
		srv := server.New(eng, cfg.HTTP.Listen)
		go func() {
			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("http surface stopped", "error", err)
			}
		}()
	}

	slog.Info("modmail-sync started",
		"backend", cfg.Backend.URL,
		"channel_mode", cfg.Channel.Mode,
		"poll_interval", pollInterval,
		"http_enabled", cfg.HTTP.Enabled,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}

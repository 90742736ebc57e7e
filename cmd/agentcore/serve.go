// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/go-a2a/agentcore/agent"
	"github.com/go-a2a/agentcore/agent/lifecycle"
	"github.com/go-a2a/agentcore/auth"
	"github.com/go-a2a/agentcore/config"
	"github.com/go-a2a/agentcore/internal/observability"
	"github.com/go-a2a/agentcore/mcp"
	"github.com/go-a2a/agentcore/provider"
	"github.com/go-a2a/agentcore/server"
	"github.com/go-a2a/agentcore/server/agent_execution"
	"github.com/go-a2a/agentcore/server/event"
	"github.com/go-a2a/agentcore/server/task"
)

const (
	sessionBuffer = 64
	replaySize    = 1024
	replayTTL     = 10 * time.Minute
)

var (
	serveAddr        string
	serveNoLifecycle bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configured agents over A2A",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides server.addr")
	serveCmd.Flags().BoolVar(&serveNoLifecycle, "no-lifecycle", false, "do not spawn agent processes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	logger, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve wires every component and blocks until ctx is done.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.Default()

	db, err := openDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	store, err := task.NewDatabaseStore(ctx, task.DatabaseStoreConfig{
		DB:          db,
		AutoMigrate: cfg.Database.AutoMigrate,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	agents, err := agent.LoadRegistry(cfg.Agents.File)
	if err != nil {
		return err
	}
	providers, err := provider.NewRegistryFromConfig(cfg, provider.WithLogger(logger), provider.WithMetrics(metrics))
	if err != nil {
		return err
	}
	tools := mcp.NewPool(cfg.MCP, mcp.WithLogger(logger), mcp.WithMetrics(metrics))
	defer tools.Close()

	lm, err := lifecycle.NewManager(ctx, lifecycle.ManagerConfig{
		DB:          db,
		AutoMigrate: cfg.Database.AutoMigrate,
		Agents:      agents,
		Lifecycle:   cfg.Lifecycle,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if reclaimed, err := lm.ReclaimOrphans(ctx); err != nil {
		logger.WarnContext(ctx, "reclaiming orphaned agents", slog.Any("error", err))
	} else if len(reclaimed) > 0 {
		logger.InfoContext(ctx, "reclaimed orphaned agents", slog.Any("agents", reclaimed))
	}
	if !serveNoLifecycle {
		if err := lm.StartAll(ctx); err != nil {
			logger.ErrorContext(ctx, "starting agent processes", slog.Any("error", err))
		}
	}

	notifier, err := task.NewHTTPPushNotificationSender(task.HTTPPushNotificationSenderConfig{
		Configs:         store,
		Secret:          cfg.Webhook.Secret,
		Timeout:         cfg.Webhook.Timeout,
		MaxResponseBody: cfg.Webhook.MaxResponseBody,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}

	broadcaster := event.NewBroadcaster(sessionBuffer, logger)
	exec, err := agent_execution.NewExecutor(agent_execution.Config{
		Store:        store,
		PushConfigs:  store,
		Notifier:     notifier,
		Agents:       agent.NewLoader(agents, providers, tools, logger),
		Tools:        tools,
		Queues:       event.NewQueueManager(),
		Broadcaster:  broadcaster,
		Replay:       event.NewReplayCache(replaySize, replayTTL),
		MaxToolTurns: cfg.Agents.MaxToolTurns,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.Auth, logger)
	if err != nil {
		return err
	}
	srv, err := server.NewServer(server.Config{
		Agents:       agents,
		Executor:     exec,
		Tasks:        store,
		PushConfigs:  store,
		Broadcaster:  broadcaster,
		Auth:         verifier,
		Sessions:     server.NewSessionResolver(store, cfg.Timeouts.SessionLookup, logger),
		Limiter:      server.NewRateLimiter(cfg.RateLimit, metrics),
		Gate:         lm,
		APIURL:       cfg.APIURL,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, server.WithLogger(logger), server.WithOrganization(cfg.Server.Organization, cfg.Server.OrganizationURL))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("/", srv)

	var handler http.Handler = mux
	if cfg.Server.H2C {
		handler = h2c.NewHandler(mux, &http2.Server{})
	}
	hs := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gctx, "serving", slog.String("addr", hs.Addr), slog.Bool("h2c", cfg.Server.H2C))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sweepContexts(gctx, store, cfg.Cleanup, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		logger.InfoContext(shutdownCtx, "shutting down")
		errs := []error{hs.Shutdown(shutdownCtx), exec.Shutdown(shutdownCtx)}
		notifier.Wait()
		if !serveNoLifecycle {
			errs = append(errs, lm.StopAll(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// sweepContexts deletes idle contexts every interval until ctx is done.
func sweepContexts(ctx context.Context, store *task.DatabaseStore, c config.CleanupConfig, logger *slog.Logger) {
	if c.Interval <= 0 || c.Horizon <= 0 {
		return
	}
	t := time.NewTicker(c.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			deleted, err := store.SweepContexts(ctx, c.Horizon)
			if err != nil {
				logger.ErrorContext(ctx, "cleanup sweep", slog.Any("error", err))
				continue
			}
			if len(deleted) > 0 {
				logger.InfoContext(ctx, "cleanup sweep", slog.Int("contexts", len(deleted)))
			}
		}
	}
}

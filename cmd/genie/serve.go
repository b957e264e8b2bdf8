package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/basket/genie/internal/bus"
	"github.com/basket/genie/internal/channels"
	"github.com/basket/genie/internal/config"
	"github.com/basket/genie/internal/cron"
	"github.com/basket/genie/internal/engine"
	"github.com/basket/genie/internal/gateway"
	otelPkg "github.com/basket/genie/internal/otel"
	"github.com/basket/genie/internal/persistence"
	"github.com/basket/genie/internal/relay"
	"github.com/basket/genie/internal/telemetry"
	"github.com/basket/genie/internal/tools"
)

func serveCmd() *cobra.Command {
	var addr string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, notification stream and chat agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return startupFailure(nil, "E_CONFIG_LOAD", err)
			}
			if addr != "" {
				cfg.BindAddr = addr
			}
			return runServe(cmd.Context(), cfg, quiet)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides bind_addr)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "log to file only")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, quiet bool) error {
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return startupFailure(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "fingerprint", cfg.Fingerprint())
	warnOpenBind(logger, cfg)

	tel, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		return startupFailure(logger, "E_OTEL_INIT", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	store, err := persistence.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return startupFailure(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_ready", "driver", store.Driver())

	hub := bus.New()
	hub.SetMetrics(tel.Metrics)

	registry, err := tools.NewRegistry(tools.Deps{
		Store:     store,
		Notifier:  hub,
		Logger:    logger,
		Telemetry: tel,
	})
	if err != nil {
		return startupFailure(logger, "E_TOOLS_INIT", err)
	}

	model := engine.NewGenkitModel(ctx, engine.GenkitConfig{
		Provider:     cfg.LLM.Provider,
		Model:        cfg.LLM.Model,
		BaseURL:      cfg.LLM.BaseURL,
		ProviderName: cfg.LLM.ProviderName,
		APIKey:       cfg.LLMAPIKey(),
		Temperature:  cfg.LLM.Temperature,
	}, registry, logger)

	pool := engine.NewPool(cfg.WorkerCount, cfg.MaxQueueDepth, logger)
	persona := engine.NewPersona(cfg.Persona)
	chat := engine.NewChatService(engine.ChatDeps{
		Store:     store,
		Model:     model,
		Invoker:   registry,
		Pool:      pool,
		Persona:   persona,
		Logger:    logger,
		Telemetry: tel,
	}, engine.ChatConfig{
		MaxSteps:         cfg.MaxSteps,
		HistoryLimit:     cfg.HistoryLimit,
		HistoryMaxTokens: cfg.HistoryMaxTokens,
	})

	gw := gateway.New(gateway.Config{
		Store:        store,
		Chat:         chat,
		Hub:          hub,
		Logger:       logger,
		Telemetry:    tel,
		AllowOrigins: cfg.AllowOrigins,
		CORS:         cfg.CORS,
		RateLimit:    cfg.RateLimit,
		MaxBodyBytes: cfg.MaxBodyBytes,
		HistoryLimit: cfg.HistoryLimit,
	})
	chat.SetBroadcaster(gw)

	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			err = fmt.Errorf("%w (another process is using %s; stop it or change bind_addr)", err, cfg.BindAddr)
		}
		return startupFailure(logger, "E_LISTENER_BIND", err)
	}
	server := &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gateway listening", "addr", ln.Addr().String(), "model", model.ModelName())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout())
		defer cancel()
		// Open SSE and websocket handlers only return once their request
		// context ends, which Shutdown does not do; Close cuts them off.
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
		}
		return nil
	})

	gw.Limiter().StartEviction(gctx, time.Minute, 10*time.Minute)

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(gctx); err != nil {
		logger.Warn("config watcher disabled", "error", err)
	} else {
		g.Go(func() error {
			config.WatchPersona(gctx, watcher, persona)
			return nil
		})
	}

	retention, err := cron.NewRetention(cron.Config{
		Store:    store,
		Logger:   logger,
		Schedule: cfg.Retention.Schedule,
		ChatDays: cfg.Retention.ChatDays,
	})
	if err != nil {
		return startupFailure(logger, "E_RETENTION_SCHEDULE", err)
	}
	retention.Start(gctx)
	defer retention.Stop()

	if cfg.Redis.Addr != "" {
		rl, err := relay.NewRedis(gctx, cfg.Redis, hub, logger)
		if err != nil {
			logger.Warn("redis relay disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer rl.Close()
			g.Go(func() error {
				if err := rl.Run(gctx); err != nil {
					logger.Error("redis relay stopped", "error", err)
				}
				return nil
			})
		}
	}

	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			logger.Warn("telegram enabled but token is missing")
		} else {
			tg := channels.NewTelegram(cfg.Telegram, chat, store, logger)
			g.Go(func() error {
				if err := tg.Start(gctx); err != nil {
					logger.Error("telegram channel failed", "error", err)
				}
				return nil
			})
		}
	}

	logger.Info("startup phase", "phase", "ready")
	err = g.Wait()
	// Handlers cut off by server.Close may still call Submit; they get
	// ErrPoolClosed.
	pool.Close()
	logger.Info("shutdown complete")
	return err
}

func warnOpenBind(logger *slog.Logger, cfg config.Config) {
	host, _, err := net.SplitHostPort(cfg.BindAddr)
	if err != nil {
		return
	}
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "127.0.0.1", "localhost", "::1":
		return
	}
	if len(cfg.AllowOrigins) == 0 {
		logger.Warn("allow_origins is empty on a non-loopback bind; cross-origin websocket clients will be rejected", "bind_addr", cfg.BindAddr)
	}
}

func isAddrInUse(err error) bool {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EADDRINUSE)
	}
	return strings.Contains(err.Error(), "address already in use")
}

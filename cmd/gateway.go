package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/internal/channels"
	"github.com/XuF163/dingbridge/internal/channels/dingtalk"
	"github.com/XuF163/dingbridge/internal/config"
	"github.com/XuF163/dingbridge/internal/gateway"
	"github.com/XuF163/dingbridge/internal/tracing"
	"github.com/XuF163/dingbridge/pkg/protocol"
)

func setupLogging(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func runGateway() {
	setupLogging(verbose)

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !verbose && cfg.DebugEnabled() {
		setupLogging(true)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open binding store", "driver", cfg.Bindings.Driver, "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	msgBus := bus.New()
	channelMgr := channels.NewManager(msgBus)

	svc := dingtalk.NewService(dingtalk.ServiceOptions{
		Bus:      msgBus,
		Events:   msgBus,
		Manager:  channelMgr,
		Bindings: stores.Bindings,
	})
	if err := svc.Init(ctx, cfg); err != nil {
		slog.Error("dingtalk init failed", "error", err)
		os.Exit(1)
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}
	slog.Info("channels started", "channels", channelMgr.GetEnabledChannels())

	go consumeInboundMessages(ctx, msgBus)

	go func() {
		// Masters and flags apply live; accounts need a restart.
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			cfg.ReplaceFrom(next)
			slog.Info("config reloaded; restart to apply account changes")
		})
		if err != nil {
			slog.Warn("config watch disabled", "error", err)
		}
	}()

	if cfg.Gateway.Port > 0 {
		server := gateway.NewServer(cfg, msgBus, svc)
		go func() {
			if err := server.Start(ctx); err != nil {
				slog.Error("gateway stopped", "error", err)
				cancel()
			}
		}()
	} else {
		slog.Info("admin gateway disabled (gateway.port = 0)")
	}

	<-ctx.Done()
	slog.Info("shutting down")

	msgBus.Broadcast(bus.Event{Name: protocol.EventShutdown})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := channelMgr.StopAll(stopCtx); err != nil {
		slog.Warn("channels stop", "error", err)
	}
}

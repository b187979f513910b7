package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gpucachelab/hotpage/internal/accessevents"
	"github.com/gpucachelab/hotpage/internal/blockmap"
	"github.com/gpucachelab/hotpage/internal/config"
	"github.com/gpucachelab/hotpage/internal/device"
	"github.com/gpucachelab/hotpage/internal/hotness/expdecay"
	"github.com/gpucachelab/hotpage/internal/hotness/metricswrap"
	"github.com/gpucachelab/hotpage/internal/logger"
	"github.com/gpucachelab/hotpage/internal/observability"
	"github.com/gpucachelab/hotpage/internal/server"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "hotpaged",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting hotpaged",
		"addr", cfg.Addr,
		"version", Version,
		"half_life", cfg.HotHalfLife.String(),
		"devices", cfg.DeviceCount)

	tracker := metricswrap.New(expdecay.NewTracker(), appLog)
	runtime := device.NewMockRuntime(cfg.DeviceCount, cfg.DeviceBytes)
	blocks := blockmap.NewRegistry(appLog)

	var events *accessevents.Publisher
	if cfg.Events.Enabled {
		p, err := accessevents.NewPublisher(
			strings.Split(cfg.Events.Brokers, ","),
			cfg.Events.Topic,
			cfg.Events.Queue,
			appLog,
		)
		if err != nil {
			appLog.Error("failed to start access-event publisher", "err", err)
			return 1
		}
		events = p
		defer func() {
			if err := events.Close(); err != nil {
				appLog.Warn("access-event publisher close", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(appLog, cfg, tracker, runtime, blocks, events)
	if err := srv.Run(ctx); err != nil {
		appLog.Error("server failed", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}

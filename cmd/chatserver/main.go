// Package main provides the chat server binary: the WebSocket gateway and
// the room presence engine behind it.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/catalog"
	"github.com/parleychat/parley/internal/chat/access"
	"github.com/parleychat/parley/internal/chat/broadcast"
	"github.com/parleychat/parley/internal/chat/grace"
	"github.com/parleychat/parley/internal/chat/presence"
	"github.com/parleychat/parley/internal/chat/protocol"
	"github.com/parleychat/parley/internal/chat/registry"
	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/gateway"
	"github.com/parleychat/parley/internal/observability"
	"github.com/parleychat/parley/internal/server"
	"github.com/parleychat/parley/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	roomsDir := flag.String("rooms", "", "path to room YAML files directory (overrides config)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting chat server",
		zap.String("addr", cfg.Server.Addr()),
		zap.Duration("grace_period", cfg.Chat.GracePeriod),
	)

	// Load the room catalog.
	roomsPath := cfg.Rooms.Dir
	if *roomsDir != "" {
		roomsPath = *roomsDir
	}
	catStart := time.Now()
	cat, err := catalog.LoadCatalogFromDir(roomsPath)
	if err != nil {
		logger.Fatal("loading room catalog", zap.Error(err))
	}
	logger.Info("room catalog loaded",
		zap.Int("rooms", cat.RoomCount()),
		zap.Duration("elapsed", time.Since(catStart)),
	)

	// Connect to PostgreSQL for durable membership and grace records.
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	membershipStore := postgres.NewMembershipStore(pool.DB())
	graceStore := postgres.NewGraceStore(pool.DB())

	// Assemble the presence engine.
	reg := registry.NewRegistry()
	dir := presence.NewDirectory(membershipStore, logger)
	disp := broadcast.NewDispatcher(reg, logger)
	proto := protocol.New(reg, dir, disp, access.NewCatalogGate(), cat, cfg.Chat.GracePeriod, graceStore, logger)

	sweeper := grace.NewSweeper(graceStore, proto.Grace(), proto.ExpireGrace, cfg.Chat.SweepInterval, logger)
	gw := gateway.New(cfg.Server, cfg.Chat, reg, proto, logger)

	// Wire lifecycle.
	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("gateway", gw)
	lifecycle.Add("grace-sweeper", sweeper)
	timersDone := make(chan struct{})
	lifecycle.Add("grace-timers", &server.FuncService{
		StartFn: func() error {
			<-timersDone
			return nil
		},
		StopFn: func() {
			proto.Grace().StopAll()
			close(timersDone)
		},
	})
	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: pool.Close,
	})

	logger.Info("chat server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

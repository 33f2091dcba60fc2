// Package main provides the game server binary: it loads the world graph,
// runs the tick loop and serves player sessions over gRPC. In server mode it
// also answers map transition proposals of remote clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/cory-johannsen/mapworld/internal/config"
	"github.com/cory-johannsen/mapworld/internal/game/transition"
	"github.com/cory-johannsen/mapworld/internal/game/world"
	"github.com/cory-johannsen/mapworld/internal/gameserver"
	"github.com/cory-johannsen/mapworld/internal/observability"
	"github.com/cory-johannsen/mapworld/internal/server"
	"github.com/cory-johannsen/mapworld/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Type)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting game server",
		zap.String("mode", cfg.Server.Mode),
		zap.String("grpc_addr", cfg.GameServer.Addr()),
	)

	worldStart := time.Now()
	file, err := world.LoadFromFile(cfg.GameServer.WorldFile)
	if err != nil {
		logger.Fatal("loading world", zap.String("file", cfg.GameServer.WorldFile), zap.Error(err))
	}
	worldMgr, err := world.NewManager(file, logger)
	if err != nil {
		logger.Fatal("resolving world", zap.Error(err))
	}
	logger.Info("world loaded",
		zap.Int("worlds", len(worldMgr.Worlds())),
		zap.Int("rooms", worldMgr.RoomCount()),
		zap.Int("issues", len(worldMgr.Issues())),
		zap.Duration("elapsed", time.Since(worldStart)),
	)

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	locations := postgres.NewLocationRepository(pool.DB())

	metricsSrv, metrics := observability.NewMetricsServer(cfg.Metrics.Addr(), logger)

	authority := gameserver.NewLocalAuthority(worldMgr, logger)
	sim := gameserver.NewSimulation(gameserver.SimulationConfig{
		Transition: transition.Config{HandshakeTimeout: cfg.GameServer.HandshakeTimeout},
	}, worldMgr, authority, locations, metrics, logger)

	ticks := gameserver.NewTickManager(cfg.GameServer.TickInterval, metrics)
	ticks.RegisterTick("simulation", sim.Tick)

	lifecycle := server.NewLifecycle(logger)

	if cfg.Metrics.Enabled() {
		lifecycle.Add("metrics", &server.FuncService{
			StartFn: metricsSrv.Start,
			StopFn:  metricsSrv.Stop,
		})
	}

	lifecycle.Add("ticks", server.ContextService(func(ctx context.Context) error {
		ticks.Start(ctx)
		ticks.Wait()
		sim.Close()
		return nil
	}))

	if cfg.Server.Mode != config.ModeClient {
		grpcServer := grpc.NewServer()
		gameserver.NewSessionService(sim, logger).Register(grpcServer)
		if cfg.Server.Mode == config.ModeServer {
			gameserver.NewTransitionService(authority, logger).Register(grpcServer)
		}
		lifecycle.Add("grpc", &server.FuncService{
			StartFn: func() error {
				lis, err := net.Listen("tcp", cfg.GameServer.Addr())
				if err != nil {
					return fmt.Errorf("listening on %s: %w", cfg.GameServer.Addr(), err)
				}
				logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
				return grpcServer.Serve(lis)
			},
			StopFn: grpcServer.GracefulStop,
		})
	}

	lifecycle.Add("postgres", server.ContextService(func(ctx context.Context) error {
		defer pool.Close()
		return pool.Watch(ctx, 30*time.Second, logger)
	}))

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Strings("services", lifecycle.Names()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

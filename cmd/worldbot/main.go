// Package main provides a headless client that drives wandering bots. In
// client mode the bots live in the game server's simulation and are steered
// through its session service; with -local they walk a local copy of the
// world and only ask the server for map transitions.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cory-johannsen/mapworld/internal/config"
	"github.com/cory-johannsen/mapworld/internal/game/transition"
	"github.com/cory-johannsen/mapworld/internal/game/world"
	"github.com/cory-johannsen/mapworld/internal/gameserver"
	"github.com/cory-johannsen/mapworld/internal/observability"
	"github.com/cory-johannsen/mapworld/internal/server"
)

func main() {
	configPath := flag.String("config", "configs/worldbot.yaml", "path to configuration file")
	bots := flag.Int("bots", 8, "number of bots to spawn")
	every := flag.Int("every", 40, "ticks between bot re-targets")
	reach := flag.Float64("reach", 120, "maximum distance of a single bot move")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed for bot movement")
	local := flag.Bool("local", false, "in client mode, simulate bots locally and ask the server only for map transitions")
	worldID := flag.Int("world", 0, "world of -town")
	townID := flag.Int("town", -1, "spawn bots at the insertion point of this town; -1 uses saved or start locations")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Type)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metricsSrv, metrics := observability.NewMetricsServer(cfg.Metrics.Addr(), logger)
	ticks := gameserver.NewTickManager(cfg.GameServer.TickInterval, metrics)

	var conn *grpc.ClientConn
	if cfg.Server.Mode == config.ModeClient {
		conn, err = grpc.NewClient(cfg.GameServer.Addr(),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			logger.Fatal("dialing game server", zap.String("addr", cfg.GameServer.Addr()), zap.Error(err))
		}
		defer func() { _ = conn.Close() }()
	}

	var (
		driver gameserver.Driver
		sim    *gameserver.Simulation
	)
	if conn != nil && !*local {
		driver = gameserver.NewSessionClient(conn)
		logger.Info("driving bots through remote sessions", zap.String("addr", cfg.GameServer.Addr()))
	} else {
		file, err := world.LoadFromFile(cfg.GameServer.WorldFile)
		if err != nil {
			logger.Fatal("loading world", zap.String("file", cfg.GameServer.WorldFile), zap.Error(err))
		}
		worldMgr, err := world.NewManager(file, logger)
		if err != nil {
			logger.Fatal("resolving world", zap.Error(err))
		}

		var authority transition.Authority
		if conn != nil {
			authority = gameserver.NewGRPCAuthority(conn)
			logger.Info("using remote transition authority", zap.String("addr", cfg.GameServer.Addr()))
		} else {
			authority = gameserver.NewLocalAuthority(worldMgr, logger)
			logger.Info("using local transition authority")
		}
		sim = gameserver.NewSimulation(gameserver.SimulationConfig{
			Transition: transition.Config{HandshakeTimeout: cfg.GameServer.HandshakeTimeout},
		}, worldMgr, authority, nil, metrics, logger)
		ticks.RegisterTick("simulation", sim.Tick)
		driver = gameserver.NewLocalDriver(sim)
	}

	wcfg := gameserver.WandererConfig{Every: *every, Reach: *reach, Seed: *seed}
	if *townID >= 0 {
		at := world.TownLocation(*worldID, *townID)
		wcfg.Spawn = &at
	}
	ctx := context.Background()
	wanderer := gameserver.NewWanderer(driver, wcfg, logger)
	if _, err := wanderer.SpawnBots(ctx, *bots); err != nil {
		wanderer.RemoveBots(ctx)
		logger.Fatal("spawning bots", zap.Error(err))
	}
	ticks.RegisterTick("wanderer", wanderer.Tick)

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
		wanderer.RemoveBots(context.Background())
		if sim != nil {
			sim.Close()
		}
		return nil
	}))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("worldbot error", zap.Error(err))
	}
}

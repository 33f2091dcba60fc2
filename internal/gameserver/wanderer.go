package gameserver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// DefaultCallTimeout bounds each Driver call made from the tick.
const DefaultCallTimeout = time.Second

// WandererConfig tunes a Wanderer.
type WandererConfig struct {
	// Every is the number of ticks between re-targets.
	Every int
	// Reach is the maximum distance of a single move.
	Reach float64
	Seed  uint64
	// Spawn, when set, is where bots join instead of their saved or start
	// location.
	Spawn       *world.Location
	CallTimeout time.Duration
}

// Wanderer drives headless bots: it joins them through a Driver and, every
// few ticks, sends each idle one towards a random nearby point.
type Wanderer struct {
	driver Driver
	cfg    WandererConfig
	logger *zap.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	uids  []string
	ticks int
}

// NewWanderer creates a Wanderer.
//
// Precondition: driver and logger must not be nil; cfg.Reach > 0.
func NewWanderer(driver Driver, cfg WandererConfig, logger *zap.Logger) *Wanderer {
	if cfg.Every < 1 {
		cfg.Every = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Wanderer{
		driver: driver,
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// SpawnBots joins n bots with fresh uuids. Each greets whoever is in view.
//
// Postcondition: Returns the uids of the bots spawned before any error.
func (w *Wanderer) SpawnBots(ctx context.Context, n int) ([]string, error) {
	var spawned []string
	defer func() {
		w.mu.Lock()
		w.uids = append(w.uids, spawned...)
		w.mu.Unlock()
	}()
	for i := 0; i < n; i++ {
		uid := uuid.NewString()
		name := fmt.Sprintf("bot-%d", i)
		p, err := w.driver.Join(ctx, uid, name, w.cfg.Spawn)
		if err != nil {
			return spawned, fmt.Errorf("spawning bot %d: %w", i, err)
		}
		spawned = append(spawned, uid)
		if _, err := w.driver.Say(ctx, uid, "hello from "+name); err != nil {
			w.logger.Warn("bot greeting", zap.String("uid", uid), zap.Error(err))
		}
		w.logger.Debug("bot joined", zap.String("uid", uid), zap.String("location", p.Location.String()))
	}
	w.logger.Info("bots spawned", zap.Int("count", len(spawned)))
	return spawned, nil
}

// Bots returns the uids of the bots driven by w.
func (w *Wanderer) Bots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.uids))
	copy(out, w.uids)
	return out
}

// RemoveBots takes every bot out of the world.
func (w *Wanderer) RemoveBots(ctx context.Context) {
	w.mu.Lock()
	uids := w.uids
	w.uids = nil
	w.mu.Unlock()
	for _, uid := range uids {
		if err := w.driver.Leave(ctx, uid); err != nil {
			w.logger.Warn("removing bot", zap.String("uid", uid), zap.Error(err))
		}
	}
}

// Tick re-targets idle bots on every cfg.Every-th call. The simulation the
// bots live in advances on its own tick.
func (w *Wanderer) Tick(time.Duration) {
	w.mu.Lock()
	w.ticks++
	retarget := w.ticks%w.cfg.Every == 0
	uids := append([]string(nil), w.uids...)
	w.mu.Unlock()
	if !retarget {
		return
	}

	for _, uid := range uids {
		w.retarget(uid)
	}
}

func (w *Wanderer) retarget(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CallTimeout)
	defer cancel()

	p, err := w.driver.Where(ctx, uid)
	if err != nil {
		w.logger.Warn("locating bot", zap.String("uid", uid), zap.Error(err))
		return
	}
	if p.Moving {
		return
	}
	w.mu.Lock()
	dest := geom.Point{
		X: p.Position.X + (w.rng.Float64()*2-1)*w.cfg.Reach,
		Y: p.Position.Y + (w.rng.Float64()*2-1)*w.cfg.Reach,
	}
	w.mu.Unlock()
	if _, err := w.driver.Move(ctx, uid, dest); err != nil {
		w.logger.Warn("moving bot", zap.String("uid", uid), zap.Error(err))
	}
}

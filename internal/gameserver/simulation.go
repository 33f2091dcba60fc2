package gameserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/router"
	"github.com/cory-johannsen/mapworld/internal/game/session"
	"github.com/cory-johannsen/mapworld/internal/game/transition"
	"github.com/cory-johannsen/mapworld/internal/game/world"
	"github.com/cory-johannsen/mapworld/internal/observability"
	"github.com/cory-johannsen/mapworld/internal/storage/postgres"
)

// Player body defaults.
const (
	DefaultBodyWidth  = 16
	DefaultBodyHeight = 16
	DefaultSpeed      = 120
)

// LocationStore persists the last known location of players.
type LocationStore interface {
	Save(ctx context.Context, s postgres.SavedLocation) error
	Load(ctx context.Context, uid string) (postgres.SavedLocation, error)
}

// SimulationConfig tunes a Simulation. Zero values select the defaults.
type SimulationConfig struct {
	BodyWidth  float64
	BodyHeight float64
	Speed      float64
	// BufferSize is the per-player message buffer.
	BufferSize int
	Transition transition.Config
}

func (c SimulationConfig) withDefaults() SimulationConfig {
	if c.BodyWidth <= 0 {
		c.BodyWidth = DefaultBodyWidth
	}
	if c.BodyHeight <= 0 {
		c.BodyHeight = DefaultBodyHeight
	}
	if c.Speed <= 0 {
		c.Speed = DefaultSpeed
	}
	return c
}

// Simulation owns the players of one process and moves them through the
// world every tick.
type Simulation struct {
	cfg     SimulationConfig
	world   *world.Manager
	routers *router.Factory
	engine  *transition.Engine
	players *session.Manager
	store   LocationStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewSimulation wires a router factory and a transition engine over w.
//
// Precondition: w, authority and logger must not be nil. store and metrics
// may be nil.
func NewSimulation(cfg SimulationConfig, w *world.Manager, authority transition.Authority, store LocationStore, metrics *observability.Metrics, logger *zap.Logger) *Simulation {
	cfg = cfg.withDefaults()
	hooks := router.Hooks{
		OnJoin: func(uid string, region world.Location) {
			logger.Debug("joined region", zap.String("uid", uid), zap.String("location", region.String()))
		},
		OnLeave: func(uid string, region world.Location) {
			logger.Debug("left region", zap.String("uid", uid), zap.String("location", region.String()))
		},
	}
	routers := router.NewFactory(hooks, metrics, logger)
	return &Simulation{
		cfg:     cfg,
		world:   w,
		routers: routers,
		engine:  transition.NewEngine(cfg.Transition, w, routers, authority, metrics, logger),
		players: session.NewManager(cfg.BufferSize),
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// World returns the world graph.
func (s *Simulation) World() *world.Manager { return s.world }

// Routers returns the router factory.
func (s *Simulation) Routers() *router.Factory { return s.routers }

// Players returns the player table.
func (s *Simulation) Players() *session.Manager { return s.players }

// Engine returns the transition engine.
func (s *Simulation) Engine() *transition.Engine { return s.engine }

// Close stops outstanding transition proposals.
func (s *Simulation) Close() {
	s.engine.Close()
}

// Spawn adds player uid at its last saved location, or at the world's start
// when none is saved or the saved one no longer resolves.
//
// Postcondition: Returns session.ErrPlayerExists if uid is already playing.
func (s *Simulation) Spawn(ctx context.Context, uid, name string) (*session.PlayerSession, error) {
	loc, pos, orientation := s.restore(ctx, uid)
	return s.spawn(uid, name, loc, pos, orientation)
}

// SpawnAt adds player uid at the insertion point of loc, ignoring any saved
// location.
//
// Postcondition: Returns an error wrapping world.ErrRegionNotFound if loc
// does not resolve.
func (s *Simulation) SpawnAt(uid, name string, loc world.Location) (*session.PlayerSession, error) {
	pos, err := s.world.StartPosition(loc)
	if err != nil {
		return nil, fmt.Errorf("spawning %q: %w", uid, err)
	}
	return s.spawn(uid, name, loc, pos, 0)
}

func (s *Simulation) spawn(uid, name string, loc world.Location, pos geom.Point, orientation float64) (*session.PlayerSession, error) {
	body := session.NewBody(loc, pos, orientation, s.cfg.BodyWidth, s.cfg.BodyHeight, s.cfg.Speed)
	sess, err := s.players.AddPlayer(uid, name, body)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Spawn(transition.FromSession(sess)); err != nil {
		_, _ = s.players.RemovePlayer(uid)
		return nil, err
	}
	s.logger.Info("player spawned",
		zap.String("uid", uid),
		zap.String("location", loc.String()),
		zap.Stringer("position", pos),
	)
	return sess, nil
}

func (s *Simulation) restore(ctx context.Context, uid string) (world.Location, geom.Point, float64) {
	start := s.world.Start()
	if s.store == nil {
		return start.Location, start.Position, start.Orientation
	}
	saved, err := s.store.Load(ctx, uid)
	switch {
	case errors.Is(err, postgres.ErrLocationNotFound):
		return start.Location, start.Position, start.Orientation
	case err != nil:
		s.logger.Warn("loading saved location; using start", zap.String("uid", uid), zap.Error(err))
		return start.Location, start.Position, start.Orientation
	}
	if _, err := s.world.Region(saved.Location); err != nil {
		s.logger.Warn("saved location no longer exists; using start",
			zap.String("uid", uid),
			zap.String("location", saved.Location.String()),
		)
		return start.Location, start.Position, start.Orientation
	}
	return saved.Location, saved.Position, saved.Orientation
}

// Remove takes uid out of the world and saves where it was.
//
// Postcondition: uid is no longer routed or listed even when saving fails.
func (s *Simulation) Remove(ctx context.Context, uid string) error {
	sess, ok := s.players.GetPlayer(uid)
	if !ok {
		return fmt.Errorf("removing %q: %w", uid, session.ErrPlayerNotFound)
	}
	if err := s.engine.Despawn(uid); err != nil && !errors.Is(err, router.ErrNotMember) {
		s.logger.Warn("despawning player", zap.String("uid", uid), zap.Error(err))
	}
	if _, err := s.players.RemovePlayer(uid); err != nil {
		return err
	}

	st := sess.Body.Snapshot()
	s.logger.Info("player removed",
		zap.String("uid", uid),
		zap.String("location", st.Location.String()),
	)
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(ctx, postgres.SavedLocation{
		UID:         uid,
		Location:    st.Location,
		Position:    st.Position,
		Orientation: st.Orientation,
	}); err != nil {
		return fmt.Errorf("removing %q: %w", uid, err)
	}
	return nil
}

// Presence is where a player stands and whether it is still walking.
type Presence struct {
	Location    world.Location
	Position    geom.Point
	Orientation float64
	Moving      bool
}

func presenceOf(st session.State) Presence {
	return Presence{
		Location:    st.Location,
		Position:    st.Position,
		Orientation: st.Orientation,
		Moving:      st.Moving,
	}
}

// Where reports the presence of uid.
func (s *Simulation) Where(uid string) (Presence, error) {
	sess, ok := s.players.GetPlayer(uid)
	if !ok {
		return Presence{}, fmt.Errorf("locating %q: %w", uid, session.ErrPlayerNotFound)
	}
	return presenceOf(sess.Body.Snapshot()), nil
}

// Move sends uid towards dest within its current region.
func (s *Simulation) Move(uid string, dest geom.Point) error {
	sess, ok := s.players.GetPlayer(uid)
	if !ok {
		return fmt.Errorf("moving %q: %w", uid, session.ErrPlayerNotFound)
	}
	sess.Body.MoveTo(dest)
	return nil
}

// Say sends a chat line from uid to everyone in view of it.
func (s *Simulation) Say(uid, text string) (int, error) {
	sess, ok := s.players.GetPlayer(uid)
	if !ok {
		return 0, fmt.Errorf("say %q: %w", uid, session.ErrPlayerNotFound)
	}
	loc := sess.Body.Location()
	msg := router.Message{Kind: router.KindChat, Sender: uid, Region: loc, Text: text}
	return s.routers.BroadcastAt(loc, msg, uid, router.ExtendedGroup), nil
}

// Tick advances every player by dt, runs the transition rules and announces
// the new position of each player that moved.
func (s *Simulation) Tick(dt time.Duration) {
	for _, sess := range s.players.Players() {
		before := sess.Body.Snapshot()
		sess.Body.Advance(dt)
		s.engine.Step(transition.FromSession(sess))
		after := sess.Body.Snapshot()
		if after.Position == before.Position && after.Location.Equal(before.Location) {
			continue
		}
		s.routers.BroadcastAt(after.Location, router.Message{
			Kind:        router.KindPosition,
			Sender:      sess.UID,
			Region:      after.Location,
			Position:    after.Position,
			Orientation: after.Orientation,
		}, sess.UID, router.ExtendedGroup)
	}
}

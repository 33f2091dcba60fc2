package transition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/router"
	"github.com/cory-johannsen/mapworld/internal/game/session"
	"github.com/cory-johannsen/mapworld/internal/game/world"
	"github.com/cory-johannsen/mapworld/internal/observability"
)

// DefaultHandshakeTimeout bounds the wait for an Authority reply when the
// Config leaves it unset.
const DefaultHandshakeTimeout = 2 * time.Second

// Entity is what the engine needs to know about a moving actor.
type Entity struct {
	UID      string
	Body     *session.Body
	Observer router.Observer
}

// FromSession builds the Entity of a player session.
func FromSession(sess *session.PlayerSession) Entity {
	return Entity{UID: sess.UID, Body: sess.Body, Observer: sess.Entity}
}

// Config tunes the Engine.
type Config struct {
	// HandshakeTimeout bounds each Authority call.
	HandshakeTimeout time.Duration
	// Knows reports whether uid has knowledge knowledgeID. Map exits whose
	// RequiredKnowledgeID is not known never trigger. Nil means every
	// knowledge is known.
	Knows func(uid string, knowledgeID int) bool
	// OnResolved, when set, is called on the proposal's goroutine once a
	// proposal has been settled. outcome is nil when the entity moved,
	// wraps ErrLeaveDenied on denial and ErrStaleReply when the reply no
	// longer applies; otherwise it is the transport or commit error.
	OnResolved func(req LeaveRequest, outcome error)
}

// entityState is the per-entity transition state.
type entityState struct {
	// possiblyLeaving is set while the entity overlaps latestLink.
	possiblyLeaving bool
	latestLink      *world.RoomLink
	// pending is the request id of the outstanding proposal, if any.
	pending string
}

// Engine runs the transition state machine for every entity.
//
// Step may be called from the tick goroutine while proposals resolve on
// their own goroutines; per-entity state is guarded by mu and region swaps
// go through router.Factory.Swap.
type Engine struct {
	cfg       Config
	world     *world.Manager
	routers   *router.Factory
	authority Authority
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu     sync.Mutex
	states map[string]*entityState

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// NewEngine creates an Engine.
//
// Precondition: w, routers, authority and logger must not be nil.
func NewEngine(cfg Config, w *world.Manager, routers *router.Factory, authority Authority, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		world:     w,
		routers:   routers,
		authority: authority,
		metrics:   metrics,
		logger:    logger,
		states:    make(map[string]*entityState),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close cancels outstanding proposals and waits for their goroutines.
func (en *Engine) Close() {
	en.cancel()
	en.inflight.Wait()
}

// Spawn places e in the region of its body's Location and joins the region's
// router.
//
// Postcondition: Returns an error if the Location does not resolve or e is
// already spawned or routed.
func (en *Engine) Spawn(e Entity) error {
	loc := e.Body.Location()
	region, err := en.world.Region(loc)
	if err != nil {
		return fmt.Errorf("spawning %s: %w", e.UID, err)
	}
	r, err := en.routers.Create(region)
	if err != nil {
		return fmt.Errorf("spawning %s: %w", e.UID, err)
	}

	en.mu.Lock()
	if _, ok := en.states[e.UID]; ok {
		en.mu.Unlock()
		return fmt.Errorf("spawning %s: %w", e.UID, ErrAlreadySpawned)
	}
	st := &entityState{}
	en.states[e.UID] = st
	en.mu.Unlock()

	if err := r.Join(e.Observer); err != nil {
		en.forget(e.UID, st)
		return fmt.Errorf("spawning %s: %w", e.UID, err)
	}
	// A Despawn that ran while joining found no membership to remove.
	if !en.alive(e.UID, st) {
		_ = en.routers.Remove(e.UID)
		return fmt.Errorf("spawning %s: %w", e.UID, ErrNotSpawned)
	}
	return nil
}

// Despawn forgets e's transition state and leaves its router. A proposal
// still in flight for e is dropped when it resolves, and a swap racing the
// despawn is aborted inside the router's critical section.
func (en *Engine) Despawn(uid string) error {
	en.mu.Lock()
	delete(en.states, uid)
	en.mu.Unlock()
	return en.routers.Remove(uid)
}

// Pending reports whether uid has an outstanding map-level proposal.
func (en *Engine) Pending(uid string) bool {
	en.mu.Lock()
	defer en.mu.Unlock()
	st, ok := en.states[uid]
	return ok && st.pending != ""
}

// lookup returns the state of uid, nil when uid is not spawned.
//
// Precondition: en.mu must be held.
func (en *Engine) lookup(uid string) *entityState {
	return en.states[uid]
}

// alive reports whether st is still the state of uid. It is called from
// inside router critical sections, so en.mu is never held while calling
// into the router Factory.
func (en *Engine) alive(uid string, st *entityState) bool {
	en.mu.Lock()
	defer en.mu.Unlock()
	return st != nil && en.states[uid] == st
}

func (en *Engine) forget(uid string, st *entityState) {
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.states[uid] == st {
		delete(en.states, uid)
	}
}

// Step runs one tick of the state machine for e. A panic while handling e
// is recovered and logged so one bad region cannot stop the tick loop.
func (en *Engine) Step(e Entity) {
	defer func() {
		if r := recover(); r != nil {
			en.metrics.RecordTickPanic()
			en.logger.Error("transition step panicked",
				zap.String("uid", e.UID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	s := e.Body.Snapshot()
	region, err := en.world.Region(s.Location)
	if err != nil {
		en.logger.Warn("entity outside any region",
			zap.String("uid", e.UID),
			zap.String("location", s.Location.String()),
		)
		return
	}
	switch r := region.(type) {
	case *world.Room:
		en.stepRoom(e, s, r)
	case *world.TownMap:
		en.stepTown(e, s, r)
	case *world.WorldMap:
		en.stepWorld(e, s, r)
	case *world.TileMap:
		en.stepTileMap(e, s, r)
	}
}

// Commit moves e into the region at target, placing it at pos facing
// orientation. Leaving the old router, updating the body and joining the
// new router happen in one critical section. This is the single reload
// action for every kind of map exit.
//
// Postcondition: On error e's Location and membership are unchanged.
// Returns ErrNotSpawned if e is not spawned or is despawned before the swap.
func (en *Engine) Commit(e Entity, target world.Location, pos geom.Point, orientation float64) error {
	en.mu.Lock()
	st := en.lookup(e.UID)
	en.mu.Unlock()
	if st == nil {
		return fmt.Errorf("committing %s: %w", e.UID, ErrNotSpawned)
	}
	return en.commit(e, st, target, pos, orientation)
}

func (en *Engine) commit(e Entity, st *entityState, target world.Location, pos geom.Point, orientation float64) error {
	region, err := en.world.Region(target)
	if err != nil {
		return fmt.Errorf("committing %s: %w", e.UID, err)
	}
	r, err := en.routers.Create(region)
	if err != nil {
		return fmt.Errorf("committing %s: %w", e.UID, err)
	}
	loc := region.Location()
	err = en.routers.Swap(e.Observer, r, func() bool {
		if !en.alive(e.UID, st) {
			return false
		}
		e.Body.Relocate(loc, pos, orientation)
		return true
	})
	if errors.Is(err, router.ErrSwapAborted) {
		return fmt.Errorf("committing %s: %w", e.UID, ErrNotSpawned)
	}
	if err != nil {
		return fmt.Errorf("committing %s: %w", e.UID, err)
	}

	en.mu.Lock()
	st.possiblyLeaving = false
	st.latestLink = nil
	en.mu.Unlock()

	en.logger.Debug("region swap",
		zap.String("uid", e.UID),
		zap.String("location", loc.String()),
		zap.Stringer("position", pos),
	)
	return nil
}

// propose sends a map-level proposal for e unless one is already pending.
// The body stops while the authority decides.
func (en *Engine) propose(e Entity, from, target world.Location, pos geom.Point, orientation float64) error {
	en.mu.Lock()
	st := en.lookup(e.UID)
	if st == nil {
		en.mu.Unlock()
		return ErrNotSpawned
	}
	if st.pending != "" {
		en.mu.Unlock()
		return ErrHandshakePending
	}
	req := LeaveRequest{
		RequestID:   uuid.NewString(),
		UID:         e.UID,
		From:        from,
		Target:      target,
		Position:    pos,
		Orientation: orientation,
	}
	st.pending = req.RequestID
	en.inflight.Add(1)
	en.mu.Unlock()

	e.Body.Stop()
	en.logger.Debug("proposing map transition",
		zap.String("uid", e.UID),
		zap.String("request_id", req.RequestID),
		zap.String("from", from.String()),
		zap.String("target", target.String()),
	)

	go func() {
		defer en.inflight.Done()
		ctx, cancel := context.WithTimeout(en.ctx, en.cfg.HandshakeTimeout)
		defer cancel()
		reply, err := en.authority.CanLeave(ctx, req)
		outcome := en.resolve(e, st, req, reply, err)
		if en.cfg.OnResolved != nil {
			en.cfg.OnResolved(req, outcome)
		}
	}()
	return nil
}

// resolve applies the authority's answer to req. The pending flag stays set
// until the commit is done so the tick cannot propose from stale state.
func (en *Engine) resolve(e Entity, st *entityState, req LeaveRequest, reply LeaveReply, err error) error {
	en.mu.Lock()
	if en.states[e.UID] != st || st.pending != req.RequestID {
		en.mu.Unlock()
		en.metrics.RecordHandshake("stale")
		return ErrStaleReply
	}
	en.mu.Unlock()
	defer en.clearPending(e.UID, req.RequestID)

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		en.metrics.RecordHandshake("timeout")
		en.logger.Warn("map transition timed out; staying put",
			zap.String("uid", e.UID),
			zap.String("request_id", req.RequestID),
			zap.Duration("timeout", en.cfg.HandshakeTimeout),
		)
		return err
	case err != nil:
		en.metrics.RecordHandshake("error")
		en.logger.Warn("map transition failed; staying put",
			zap.String("uid", e.UID),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return err
	case reply.RequestID != "" && reply.RequestID != req.RequestID:
		en.metrics.RecordHandshake("stale")
		return ErrStaleReply
	case !reply.Accepted:
		en.metrics.RecordHandshake("denied")
		en.logger.Info("map transition denied",
			zap.String("uid", e.UID),
			zap.String("target", req.Target.String()),
			zap.String("reason", reply.Reason),
		)
		return fmt.Errorf("%w: %s", ErrLeaveDenied, reply.Reason)
	}

	if cur := e.Body.Location(); !cur.Equal(req.From) {
		en.metrics.RecordHandshake("stale")
		return ErrStaleReply
	}
	en.metrics.RecordHandshake("accepted")
	if err := en.commit(e, st, reply.Target, reply.Position, reply.Orientation); err != nil {
		en.logger.Warn("committing accepted map transition", zap.String("uid", e.UID), zap.Error(err))
		return err
	}
	return nil
}

func (en *Engine) clearPending(uid, requestID string) {
	en.mu.Lock()
	defer en.mu.Unlock()
	if st, ok := en.states[uid]; ok && st.pending == requestID {
		st.pending = ""
	}
}

func (en *Engine) knows(uid string, e *world.MapExit) bool {
	if e.RequiredKnowledgeID == world.NoKnowledge || en.cfg.Knows == nil {
		return true
	}
	return en.cfg.Knows(uid, e.RequiredKnowledgeID)
}

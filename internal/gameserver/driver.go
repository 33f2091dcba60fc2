package gameserver

import (
	"context"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/session"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// Driver joins, moves and removes players of a Simulation. LocalDriver
// drives one in the same process and SessionClient one behind a game server.
type Driver interface {
	// Join spawns uid, at the insertion point of at when it is not nil.
	Join(ctx context.Context, uid, name string, at *world.Location) (Presence, error)
	Where(ctx context.Context, uid string) (Presence, error)
	Move(ctx context.Context, uid string, dest geom.Point) (Presence, error)
	// Say returns how many players heard text.
	Say(ctx context.Context, uid, text string) (int, error)
	Leave(ctx context.Context, uid string) error
}

// LocalDriver drives an in-process Simulation.
type LocalDriver struct {
	sim *Simulation
}

// NewLocalDriver creates a LocalDriver over sim.
//
// Precondition: sim must not be nil.
func NewLocalDriver(sim *Simulation) *LocalDriver {
	return &LocalDriver{sim: sim}
}

// Join spawns uid.
func (d *LocalDriver) Join(ctx context.Context, uid, name string, at *world.Location) (Presence, error) {
	var (
		sess *session.PlayerSession
		err  error
	)
	if at != nil {
		sess, err = d.sim.SpawnAt(uid, name, *at)
	} else {
		sess, err = d.sim.Spawn(ctx, uid, name)
	}
	if err != nil {
		return Presence{}, err
	}
	return presenceOf(sess.Body.Snapshot()), nil
}

// Where reports the presence of uid.
func (d *LocalDriver) Where(_ context.Context, uid string) (Presence, error) {
	return d.sim.Where(uid)
}

// Move sends uid towards dest and reports its presence.
func (d *LocalDriver) Move(_ context.Context, uid string, dest geom.Point) (Presence, error) {
	if err := d.sim.Move(uid, dest); err != nil {
		return Presence{}, err
	}
	return d.sim.Where(uid)
}

// Say broadcasts text from uid.
func (d *LocalDriver) Say(_ context.Context, uid, text string) (int, error) {
	return d.sim.Say(uid, text)
}

// Leave removes uid.
func (d *LocalDriver) Leave(ctx context.Context, uid string) error {
	return d.sim.Remove(ctx, uid)
}

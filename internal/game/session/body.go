package session

import (
	"math"
	"sync"
	"time"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// State is a consistent copy of a Body.
type State struct {
	Location    world.Location
	Position    geom.Point
	Orientation float64
	Moving      bool
	Destination geom.Point
	// Speed is in map units per second.
	Speed float64
	// Width and Height are the sprite bounds.
	Width, Height float64
}

// Rect returns the sprite rectangle at the state's position.
func (s State) Rect() geom.Rect {
	return geom.R(s.Position.X, s.Position.Y, s.Width, s.Height)
}

// Body is an entity's movement state and Location guarded by one lock, so a
// reader never sees a position from one update paired with a Location or
// moving flag from another.
type Body struct {
	mu sync.Mutex
	s  State
}

// NewBody creates a stationary body.
//
// Precondition: width, height and speed must be > 0.
func NewBody(loc world.Location, pos geom.Point, orientation, width, height, speed float64) *Body {
	return &Body{s: State{
		Location:    loc,
		Position:    pos,
		Orientation: orientation,
		Speed:       speed,
		Width:       width,
		Height:      height,
	}}
}

// Snapshot returns a copy of the body's state.
func (b *Body) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s
}

// Location returns the body's Location.
func (b *Body) Location() world.Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s.Location
}

// CurrentRectangle returns the sprite rectangle at the current position.
func (b *Body) CurrentRectangle() geom.Rect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s.Rect()
}

// DestinationPoint returns the destination and true while the body is moving.
func (b *Body) DestinationPoint() (geom.Point, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s.Destination, b.s.Moving
}

// MoveTo starts moving towards dest and turns to face it. Orientation is
// measured in map coordinates, where y grows downward.
func (b *Body) MoveTo(dest geom.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dx, dy := dest.X-b.s.Position.X, dest.Y-b.s.Position.Y
	if dx == 0 && dy == 0 {
		b.s.Moving = false
		return
	}
	b.s.Destination = dest
	b.s.Moving = true
	b.s.Orientation = math.Atan2(dy, dx)
}

// Stop halts movement.
func (b *Body) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.Moving = false
}

// Advance moves the body dt along its path and returns the new state.
// A body reaching its destination stops there.
func (b *Body) Advance(dt time.Duration) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.s.Moving {
		return b.s
	}
	step := b.s.Speed * dt.Seconds()
	dx, dy := b.s.Destination.X-b.s.Position.X, b.s.Destination.Y-b.s.Position.Y
	dist := math.Hypot(dx, dy)
	if dist <= step {
		b.s.Position = b.s.Destination
		b.s.Moving = false
		return b.s
	}
	b.s.Position = b.s.Position.Add(dx/dist*step, dy/dist*step)
	return b.s
}

// SetPosition places the body at pos facing orientation without touching
// its Location. Used for authoritative position corrections.
func (b *Body) SetPosition(pos geom.Point, orientation float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.Position = pos
	b.s.Orientation = orientation
}

// SetRoom changes the room of a room-shaped Location, keeping the position.
func (b *Body) SetRoom(roomID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.Location = b.s.Location.WithRoom(roomID)
}

// Relocate sets Location, position and orientation together and stops
// movement. It is the commit step of a map-level region swap.
func (b *Body) Relocate(loc world.Location, pos geom.Point, orientation float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.Location = loc
	b.s.Position = pos
	b.s.Orientation = orientation
	b.s.Moving = false
}

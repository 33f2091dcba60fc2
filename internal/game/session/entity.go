// Package session tracks connected players: their routed-message outbox and
// their body (movement state plus Location).
package session

import (
	"fmt"
	"sync"

	"github.com/cory-johannsen/mapworld/internal/game/router"
)

// DefaultBufferSize is the outbox capacity used when none is given.
const DefaultBufferSize = 64

// BridgeEntity routes router messages to a Go channel, bridging the router
// fan-out to whatever drains the player's outbox (a gRPC stream, a bot).
// It implements router.Observer.
type BridgeEntity struct {
	uid    string
	events chan router.Message
	mu     sync.Mutex
	closed bool
}

// NewBridgeEntity creates a BridgeEntity for the given player UID.
//
// Precondition: uid must be non-empty.
// Postcondition: Returns a BridgeEntity with an open events channel.
func NewBridgeEntity(uid string, bufferSize int) *BridgeEntity {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &BridgeEntity{
		uid:    uid,
		events: make(chan router.Message, bufferSize),
	}
}

// UID returns the player's unique identifier.
func (e *BridgeEntity) UID() string {
	return e.uid
}

// Push enqueues msg without blocking.
//
// Postcondition: msg is enqueued, or an error is returned if the entity is
// closed or its buffer is full.
func (e *BridgeEntity) Push(msg router.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("entity %s is closed", e.uid)
	}
	select {
	case e.events <- msg:
		return nil
	default:
		return fmt.Errorf("entity %s event buffer full", e.uid)
	}
}

// Events returns the read-only events channel.
func (e *BridgeEntity) Events() <-chan router.Message {
	return e.events
}

// Drain returns every message currently buffered without blocking.
func (e *BridgeEntity) Drain() []router.Message {
	var out []router.Message
	for {
		select {
		case msg, ok := <-e.events:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Close marks the entity as closed and closes the events channel.
//
// Postcondition: The events channel is closed. Further Push calls return an error.
func (e *BridgeEntity) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		close(e.events)
	}
	return nil
}

// IsClosed reports whether the entity has been closed.
func (e *BridgeEntity) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

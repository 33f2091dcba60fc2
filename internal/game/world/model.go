// Package world provides the spatial model of the game: locations, the map
// hierarchy (world, town, building, interior map, room, tile map), map exits,
// room links and doors.
package world

import (
	"fmt"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
)

// Start is where new entities spawn when they have no saved location.
type Start struct {
	Location    Location
	Position    geom.Point
	Orientation float64
}

// File is a parsed world file: the unresolved value graph plus the spawn
// point. NewManager resolves it into a wired graph.
type File struct {
	Worlds []*WorldMap
	Start  Start
	// hasStart is false when the file omitted the start block.
	hasStart bool
}

// IssueKind classifies a data-integrity problem found while resolving the
// world graph.
type IssueKind int

// Issue kinds.
const (
	// IssueDanglingLink is a room link whose room ids do not both resolve.
	// The link is left unresolved and never triggers.
	IssueDanglingLink IssueKind = iota
	// IssueForeignLink is a link listed by a room it does not reference. It is
	// dropped from that room.
	IssueForeignLink
	// IssueConflictingLink is a link id defined twice with different data.
	// The first definition wins.
	IssueConflictingLink
	// IssueHalfLink is a link known to one of its rooms only. It is repaired
	// by adding it to the other room.
	IssueHalfLink
	// IssueDanglingExit is a map exit whose target does not resolve. The exit
	// is made inert.
	IssueDanglingExit
)

// String returns the issue kind name.
func (k IssueKind) String() string {
	switch k {
	case IssueDanglingLink:
		return "dangling_link"
	case IssueForeignLink:
		return "foreign_link"
	case IssueConflictingLink:
		return "conflicting_link"
	case IssueHalfLink:
		return "half_link"
	case IssueDanglingExit:
		return "dangling_exit"
	default:
		return fmt.Sprintf("IssueKind(%d)", int(k))
	}
}

// Issue is a data-integrity problem found and contained during resolve.
type Issue struct {
	Kind     IssueKind
	Location Location
	Detail   string
}

// String returns a one-line description of the issue.
func (i Issue) String() string {
	return fmt.Sprintf("%s at %s: %s", i.Kind, i.Location, i.Detail)
}

// Package host defines what the scanner needs from the simulation it
// observes. The simulation owns the objects; the scanner only reads them.
package host

import "splogs.io/internal/sim/model"

type Host interface {
	WorldName() string
	// IsAuthority reports whether this process owns the world state. Only
	// the authority scans; replicas would double-report every item.
	IsAuthority() bool
	// QueryNear returns every object within radius of center. Results of
	// adjacent queries may overlap.
	QueryNear(center model.Vec3, radius float64) []Object
}

type Object interface {
	// PersistentID is the engine-assigned storage id. All-zero means the
	// object was never persisted.
	PersistentID() [4]int32
	TypeName() string
	DisplayName() string
	Position() model.Vec3
	// Health01 is nominally in [0,1]; engines occasionally report outside it.
	Health01() float64
	// Quantity reports the stack quantity; ok=false when the object has none.
	Quantity() (qty float64, ok bool)
	IsItem() bool
	// RootPlayer is the player at the top of the containment hierarchy, or nil.
	RootPlayer() Object
	// Parent is the direct container, or nil when the object lies in the world.
	Parent() Object
}

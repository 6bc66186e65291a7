package state

import (
	"math"

	"splogs.io/internal/sim/host"
	"splogs.io/internal/sim/model"
	"splogs.io/internal/telemetry/identity"
)

// NoQuantity marks objects without a stack quantity.
const NoQuantity = -1

// ObservedState is the part of an object the collector tracks between scans.
type ObservedState struct {
	Pos         model.Vec3
	HPPct       int
	Class       string
	Qty         int
	HolderClass string
	HolderID    string
}

type Tolerances struct {
	Move  float64
	HPPct int
}

func DefaultTolerances() Tolerances {
	return Tolerances{Move: 0.25, HPPct: 1}
}

// Observation is an ObservedState plus the values that are reported but not
// cached.
type Observation struct {
	State    ObservedState
	Health01 float64
	Name     string
}

func Observe(obj host.Object) Observation {
	hp := ClampHealth(obj.Health01())
	qty := NoQuantity
	if q, ok := obj.Quantity(); ok {
		qty = int(math.Round(q))
	}
	holderClass, holderID := identity.Holder(obj)
	name := obj.DisplayName()
	if name == "" {
		name = obj.TypeName()
	}
	return Observation{
		State: ObservedState{
			Pos:         obj.Position(),
			HPPct:       HealthPercent(hp),
			Class:       obj.TypeName(),
			Qty:         qty,
			HolderClass: holderClass,
			HolderID:    holderID,
		},
		Health01: hp,
		Name:     name,
	}
}

func ClampHealth(hp float64) float64 {
	if math.IsNaN(hp) || hp < 0 {
		return 0
	}
	if hp > 1 {
		return 1
	}
	return hp
}

func HealthPercent(hp01 float64) int {
	return int(math.Round(ClampHealth(hp01) * 100))
}

// HasChanged reports whether cur differs from prev by more than tol. A nil
// prev is a first sighting and always counts.
func HasChanged(prev *ObservedState, cur ObservedState, tol Tolerances) bool {
	if prev == nil {
		return true
	}
	if model.Distance(prev.Pos, cur.Pos) >= tol.Move {
		return true
	}
	dhp := cur.HPPct - prev.HPPct
	if dhp < 0 {
		dhp = -dhp
	}
	if dhp >= tol.HPPct {
		return true
	}
	return prev.Class != cur.Class ||
		prev.Qty != cur.Qty ||
		prev.HolderClass != cur.HolderClass ||
		prev.HolderID != cur.HolderID
}

package state

import (
	"testing"

	"splogs.io/internal/sim/model"
)

func base() ObservedState {
	return ObservedState{Pos: model.Vec3{X: 10, Y: 2, Z: 10}, HPPct: 80, Class: "Apple", Qty: -1, HolderClass: "world"}
}

func TestHasChanged_FirstSighting(t *testing.T) {
	if !HasChanged(nil, base(), DefaultTolerances()) {
		t.Fatalf("nil prev must count as changed")
	}
}

func TestHasChanged_Fields(t *testing.T) {
	tol := DefaultTolerances()
	prev := base()

	cases := []struct {
		name string
		mut  func(*ObservedState)
		want bool
	}{
		{"identical", func(*ObservedState) {}, false},
		{"sub-threshold move", func(s *ObservedState) { s.Pos.X += 0.1 }, false},
		{"move at tolerance", func(s *ObservedState) { s.Pos.X += 0.25 }, true},
		{"vertical move", func(s *ObservedState) { s.Pos.Y += 1 }, true},
		{"hp down one point", func(s *ObservedState) { s.HPPct-- }, true},
		{"class", func(s *ObservedState) { s.Class = "Pear" }, true},
		{"qty from sentinel", func(s *ObservedState) { s.Qty = 0 }, true},
		{"holder class", func(s *ObservedState) { s.HolderClass = "player" }, true},
		{"holder id", func(s *ObservedState) { s.HolderID = "p:1:1:1:1" }, true},
	}
	for _, tc := range cases {
		cur := prev
		tc.mut(&cur)
		p := prev
		if got := HasChanged(&p, cur, tol); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestHasChanged_MonotoneInMoveTolerance(t *testing.T) {
	prev := base()
	cur := prev
	cur.Pos.Z += 0.6
	dist := model.Distance(prev.Pos, cur.Pos)

	wasChanged := false
	for _, move := range []float64{2, 1, 0.7, dist, 0.5, 0.1, 0.01} {
		got := HasChanged(&prev, cur, Tolerances{Move: move, HPPct: 100})
		if wasChanged && !got {
			t.Fatalf("move tolerance %v: decision flipped back to unchanged", move)
		}
		if move <= dist && !got {
			t.Fatalf("move tolerance %v <= distance %v must report a change", move, dist)
		}
		wasChanged = got
	}
}

func TestHasChanged_MonotoneInHealthTolerance(t *testing.T) {
	prev := base()
	cur := prev
	cur.HPPct = prev.HPPct - 7

	wasChanged := false
	for hp := 20; hp >= 0; hp-- {
		got := HasChanged(&prev, cur, Tolerances{Move: 1000, HPPct: hp})
		if wasChanged && !got {
			t.Fatalf("hp tolerance %d: decision flipped back to unchanged", hp)
		}
		if hp <= 7 && !got {
			t.Fatalf("hp tolerance %d must report a 7 point drop", hp)
		}
		if hp > 7 && got {
			t.Fatalf("hp tolerance %d must ignore a 7 point drop", hp)
		}
		wasChanged = got
	}
}

func TestHealthPercent_Clamps(t *testing.T) {
	for _, tc := range []struct {
		in   float64
		want int
	}{
		{-0.5, 0}, {0, 0}, {0.004, 0}, {0.556, 56}, {0.994, 99}, {1, 100}, {1.7, 100},
	} {
		if got := HealthPercent(tc.in); got != tc.want {
			t.Fatalf("HealthPercent(%v) = %d want %d", tc.in, got, tc.want)
		}
	}
}

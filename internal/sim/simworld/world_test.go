package simworld

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"splogs.io/internal/sim/model"
	"splogs.io/internal/telemetry/identity"
)

func emptyWorld() *World {
	return New(Config{Name: "enoch", Size: 1000, Authority: true, CellSize: 100})
}

func TestQueryNear_RadiusAndOrder(t *testing.T) {
	w := emptyWorld()
	a := w.Spawn(Entity{Kind: KindItem, Type: "Apple", Pos: model.Vec3{X: 100, Z: 100}, Health: 1})
	b := w.Spawn(Entity{Kind: KindItem, Type: "Rag", Pos: model.Vec3{X: 150, Y: 900, Z: 100}, Health: 1})
	w.Spawn(Entity{Kind: KindItem, Type: "Nail", Pos: model.Vec3{X: 400, Z: 400}, Health: 1})

	got := w.QueryNear(model.Vec3{X: 100, Z: 100}, 60)
	var types []string
	for _, o := range got {
		types = append(types, o.TypeName())
	}
	if diff := cmp.Diff([]string{"Apple", "Rag"}, types); diff != "" {
		t.Fatalf("query (-want +got):\n%s", diff)
	}
	if got[0].PersistentID()[0] != a || got[1].PersistentID()[0] != b {
		t.Fatalf("ids not in ascending order")
	}
	if len(w.QueryNear(model.Vec3{X: 100, Z: 100}, -1)) != 0 {
		t.Fatalf("negative radius must return nothing")
	}
}

func TestQueryNear_TracksMoves(t *testing.T) {
	w := emptyWorld()
	id := w.Spawn(Entity{Kind: KindItem, Type: "Apple", Pos: model.Vec3{X: 10, Z: 10}, Health: 1})
	w.Move(id, model.Vec3{X: 900, Z: 900})

	if n := len(w.QueryNear(model.Vec3{X: 10, Z: 10}, 50)); n != 0 {
		t.Fatalf("stale cell entry, got %d", n)
	}
	if n := len(w.QueryNear(model.Vec3{X: 900, Z: 900}, 50)); n != 1 {
		t.Fatalf("moved entity not found, got %d", n)
	}
	w.Move(id, model.Vec3{X: -50, Z: 5000})
	e, _ := w.Get(id)
	if e.Pos.X != 0 || e.Pos.Z != 1000 {
		t.Fatalf("position not clamped: %+v", e.Pos)
	}
}

func TestHolderChain(t *testing.T) {
	w := emptyWorld()
	player := w.Spawn(Entity{Kind: KindPlayer, Type: "SurvivorM", Pos: model.Vec3{X: 500, Z: 500}, Health: 1})
	bag := w.Spawn(Entity{Kind: KindContainer, Type: "Backpack", Holder: player, Health: 1})
	knife := w.Spawn(Entity{Kind: KindItem, Type: "Knife", Holder: bag, Health: 1})

	if w.SetHolder(bag, knife) {
		t.Fatalf("cycle must be rejected")
	}

	var found bool
	for _, o := range w.QueryNear(model.Vec3{X: 500, Z: 500}, 1) {
		if o.TypeName() != "Knife" {
			continue
		}
		found = true
		class, id := identity.Holder(o)
		pid, _ := identity.Resolve(o.RootPlayer())
		if class != identity.HolderPlayer || id != pid {
			t.Fatalf("knife holder %s/%s", class, id)
		}
		if o.Parent().TypeName() != "Backpack" {
			t.Fatalf("knife parent %s", o.Parent().TypeName())
		}
	}
	if !found {
		t.Fatalf("knife not returned")
	}

	w.Move(player, model.Vec3{X: 10, Z: 10})
	e, _ := w.Get(knife)
	if e.Pos.X != 10 || e.Pos.Z != 10 {
		t.Fatalf("held item did not follow player: %+v", e.Pos)
	}

	w.Remove(bag)
	e, _ = w.Get(knife)
	if e.Holder != 0 {
		t.Fatalf("contents not dropped with container")
	}
}

func TestObjectView_PlayersAreNotItems(t *testing.T) {
	w := emptyWorld()
	w.Spawn(Entity{Kind: KindPlayer, Type: "SurvivorF", Pos: model.Vec3{X: 1, Z: 1}})
	w.Spawn(Entity{Kind: KindItem, Type: "Ghost", Pos: model.Vec3{X: 1, Z: 1}, Untracked: true})
	for _, o := range w.QueryNear(model.Vec3{X: 1, Z: 1}, 5) {
		switch o.TypeName() {
		case "SurvivorF":
			if o.IsItem() {
				t.Fatalf("player reported as item")
			}
		case "Ghost":
			if _, ok := identity.Resolve(o); ok {
				t.Fatalf("untracked entity resolved")
			}
		}
	}
}

func TestStep_DeterministicForSeed(t *testing.T) {
	cfg := Config{Name: "chernarusplus", Size: 2000, Seed: 7, Items: 300, Players: 5, Containers: 10, Authority: true}
	a, b := New(cfg), New(cfg)
	for i := 0; i < 50; i++ {
		sa, sb := a.Step(), b.Step()
		if diff := cmp.Diff(sa, sb); diff != "" {
			t.Fatalf("step %d diverged:\n%s", i, diff)
		}
	}
	if diff := cmp.Diff(a.Counts(), b.Counts()); diff != "" {
		t.Fatalf("counts diverged:\n%s", diff)
	}
	if a.Counts()[KindPlayer] != 5 {
		t.Fatalf("players changed: %v", a.Counts())
	}
}

func TestQueryNear_ConcurrentWithStep(t *testing.T) {
	w := New(Config{Size: 3000, Seed: 1, Items: 500, Players: 8, Containers: 20, Authority: true})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			w.Step()
		}
	}()
	for i := 0; i < 100; i++ {
		for _, o := range w.QueryNear(model.Vec3{X: 1500, Z: 1500}, 1200) {
			_ = o.Position()
			_, _ = identity.Resolve(o)
		}
	}
	wg.Wait()
}

func TestAuthorityToggle(t *testing.T) {
	w := emptyWorld()
	if !w.IsAuthority() {
		t.Fatalf("expected authority")
	}
	w.SetAuthority(false)
	if w.IsAuthority() {
		t.Fatalf("expected replica")
	}
}

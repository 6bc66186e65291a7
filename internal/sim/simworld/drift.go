package simworld

import (
	"math"
	"sort"

	"splogs.io/internal/sim/catalogs"
	"splogs.io/internal/sim/model"
)

// Per-step probabilities for each entity.
const (
	walkChance    = 0.5
	nudgeChance   = 0.02
	damageChance  = 0.01
	pickupChance  = 0.005
	dropChance    = 0.005
	despawnChance = 0.002
	untrackedRate = 0.01
)

type StepStats struct {
	Walked    int
	Nudged    int
	Damaged   int
	PickedUp  int
	Dropped   int
	Despawned int
	Spawned   int
}

func (w *World) populate(cfg Config) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var players, containers []int32
	classes := w.catalog.Players.Classes
	for i := 0; i < cfg.Players && len(classes) > 0; i++ {
		cls := classes[w.rng.Intn(len(classes))]
		players = append(players, w.spawnLocked(Entity{
			Kind:   KindPlayer,
			Type:   cls,
			Name:   cls,
			Pos:    w.randomPos(),
			Health: 1,
		}))
	}
	boxes := w.catalog.Items.ByKind(catalogs.KindContainer)
	for i := 0; i < cfg.Containers && len(boxes) > 0; i++ {
		containers = append(containers, w.spawnLocked(w.newItem(boxes[w.rng.Intn(len(boxes))], 0)))
	}
	loose := w.catalog.Items.ByKind(catalogs.KindItem)
	if len(loose) == 0 {
		return
	}
	for i := 0; i < cfg.Items; i++ {
		var holder int32
		switch r := w.rng.Float64(); {
		case r < 0.15 && len(containers) > 0:
			holder = containers[w.rng.Intn(len(containers))]
		case r < 0.30 && len(players) > 0:
			holder = players[w.rng.Intn(len(players))]
		}
		w.spawnLocked(w.newItem(loose[w.rng.Intn(len(loose))], holder))
	}
}

func (w *World) newItem(class string, holder int32) Entity {
	def := w.catalog.Items.Defs[class]
	kind := KindItem
	if def.Kind == catalogs.KindContainer {
		kind = KindContainer
	}
	e := Entity{
		Kind:      kind,
		Type:      class,
		Name:      def.Name,
		Pos:       w.randomPos(),
		Health:    0.5 + w.rng.Float64()*0.5,
		Holder:    holder,
		Untracked: w.rng.Float64() < untrackedRate,
	}
	if def.MaxQty > 0 {
		e.HasQty = true
		e.Qty = math.Ceil(w.rng.Float64() * def.MaxQty)
	}
	return e
}

func (w *World) randomPos() model.Vec3 {
	return model.Vec3{
		X: w.rng.Float64() * w.size,
		Y: w.rng.Float64() * 300,
		Z: w.rng.Float64() * w.size,
	}
}

// Step advances the drift by one tick: players walk, loose items get nudged
// or damaged, items are picked up, dropped, despawned and respawned. The
// outcome is fully determined by the seed and the sequence of calls.
func (w *World) Step() StepStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	var st StepStats
	ids := make([]int32, 0, len(w.entities))
	var players []int32
	for id, e := range w.entities {
		ids = append(ids, id)
		if e.Kind == KindPlayer {
			players = append(players, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })

	for _, id := range ids {
		e, ok := w.entities[id]
		if !ok {
			continue
		}
		switch e.Kind {
		case KindPlayer:
			if w.rng.Float64() < walkChance {
				w.moveLocked(id, w.offset(e.Pos, 50))
				st.Walked++
			}
			continue
		case KindContainer:
			continue
		}

		if e.Holder == 0 && w.rng.Float64() < nudgeChance {
			w.moveLocked(id, w.offset(e.Pos, 3))
			st.Nudged++
		}
		if w.rng.Float64() < damageChance {
			e.Health = math.Max(0, e.Health-0.05)
			st.Damaged++
		}
		switch {
		case e.Holder == 0 && len(players) > 0 && w.rng.Float64() < pickupChance:
			p := players[w.rng.Intn(len(players))]
			e.Holder = p
			w.moveLocked(id, w.entities[p].Pos)
			st.PickedUp++
		case e.Holder != 0 && w.rng.Float64() < dropChance:
			e.Holder = 0
			w.moveLocked(id, w.offset(e.Pos, 1))
			st.Dropped++
		}
		if w.rng.Float64() < despawnChance {
			class := e.Type
			w.removeLocked(id)
			st.Despawned++
			w.spawnLocked(w.newItem(class, 0))
			st.Spawned++
		}
	}
	return st
}

func (w *World) offset(p model.Vec3, maxDist float64) model.Vec3 {
	ang := w.rng.Float64() * 2 * math.Pi
	d := w.rng.Float64() * maxDist
	p.X += math.Cos(ang) * d
	p.Z += math.Sin(ang) * d
	return p
}

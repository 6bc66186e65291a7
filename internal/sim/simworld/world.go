// Package simworld is an in-memory world used by cmd/server when no game
// engine is attached. It holds loose items, players and containers on a
// square map and drifts them over time so the scanner has something to
// report.
package simworld

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"splogs.io/internal/sim/catalogs"
	"splogs.io/internal/sim/host"
	"splogs.io/internal/sim/model"
)

type Kind uint8

const (
	KindItem Kind = iota
	KindPlayer
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindPlayer:
		return "player"
	case KindContainer:
		return "container"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DefaultCellSize is the edge of the lookup grid used by QueryNear.
const DefaultCellSize = 400.0

type Config struct {
	Name       string
	Size       float64
	Seed       int64
	Items      int
	Players    int
	Containers int
	// Authority is the initial value reported by IsAuthority.
	Authority bool
	CellSize  float64
	// Catalog defaults to catalogs.Default().
	Catalog *catalogs.Catalogs
}

// Entity is the stored form of a world object.
type Entity struct {
	ID     int32
	Kind   Kind
	Type   string
	Name   string
	Pos    model.Vec3
	Health float64
	Qty    float64
	HasQty bool
	// Holder is the id of the direct container or player, 0 when loose.
	Holder int32
	// Untracked entities report an all-zero persistent id.
	Untracked bool
}

type cellKey struct {
	X int
	Z int
}

type World struct {
	mu sync.RWMutex

	name      string
	size      float64
	authority bool
	rng       *rand.Rand
	cellSize  float64
	invCell   float64
	catalog   *catalogs.Catalogs

	nextID   int32
	entities map[int32]*Entity
	cells    map[cellKey][]int32
	cellOf   map[int32]cellKey
}

var _ host.Host = (*World)(nil)

func New(cfg Config) *World {
	if cfg.Size <= 0 {
		cfg.Size = 15360
	}
	if cfg.CellSize <= 0 {
		cfg.CellSize = DefaultCellSize
	}
	if cfg.Name == "" {
		cfg.Name = "chernarusplus"
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalogs.Default()
	}
	w := &World{
		name:      cfg.Name,
		size:      cfg.Size,
		authority: cfg.Authority,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		cellSize:  cfg.CellSize,
		invCell:   1.0 / cfg.CellSize,
		catalog:   cfg.Catalog,
		entities:  map[int32]*Entity{},
		cells:     map[cellKey][]int32{},
		cellOf:    map[int32]cellKey{},
	}
	w.populate(cfg)
	return w
}

func (w *World) WorldName() string { return w.name }

func (w *World) Size() float64 { return w.size }

func (w *World) IsAuthority() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.authority
}

func (w *World) SetAuthority(v bool) {
	w.mu.Lock()
	w.authority = v
	w.mu.Unlock()
}

// Spawn stores e and returns its id. Held entities take their holder's
// position.
func (w *World) Spawn(e Entity) int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spawnLocked(e)
}

func (w *World) spawnLocked(e Entity) int32 {
	w.nextID++
	e.ID = w.nextID
	if h := w.entities[e.Holder]; e.Holder != 0 && h != nil {
		e.Pos = h.Pos
	} else {
		e.Holder = 0
	}
	ent := e
	w.entities[ent.ID] = &ent
	w.index(ent.ID)
	return ent.ID
}

// Remove deletes an entity. Anything it held drops at its position.
func (w *World) Remove(id int32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removeLocked(id)
}

func (w *World) removeLocked(id int32) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	for _, other := range w.entities {
		if other.Holder == id {
			other.Holder = 0
		}
	}
	w.unindex(id)
	delete(w.entities, id)
	return true
}

// Move places an entity and everything it holds at pos.
func (w *World) Move(id int32, pos model.Vec3) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entities[id]; !ok {
		return false
	}
	w.moveLocked(id, pos)
	return true
}

func (w *World) moveLocked(id int32, pos model.Vec3) {
	e := w.entities[id]
	e.Pos = w.clamp(pos)
	w.index(id)
	for _, other := range w.entities {
		if other.Holder == id {
			w.moveLocked(other.ID, e.Pos)
		}
	}
}

// SetHolder moves item id into holder (0 drops it where the holder stands).
func (w *World) SetHolder(id, holder int32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return false
	}
	if holder != 0 {
		h, ok := w.entities[holder]
		if !ok || w.heldBy(holder, id) {
			return false
		}
		e.Holder = holder
		w.moveLocked(id, h.Pos)
		return true
	}
	e.Holder = 0
	return true
}

// heldBy reports whether id is outer or any holder above it.
func (w *World) heldBy(id, outer int32) bool {
	for cur := id; cur != 0; {
		if cur == outer {
			return true
		}
		e, ok := w.entities[cur]
		if !ok {
			return false
		}
		cur = e.Holder
	}
	return false
}

func (w *World) SetHealth(id int32, hp float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return false
	}
	e.Health = hp
	return true
}

func (w *World) Get(id int32) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Counts returns the number of entities per kind.
func (w *World) Counts() map[Kind]int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := map[Kind]int{}
	for _, e := range w.entities {
		out[e.Kind]++
	}
	return out
}

// QueryNear returns read-only snapshots of every entity whose horizontal
// distance to center is at most radius. Snapshots are detached from the
// world, so callers may hold them while the world keeps stepping.
func (w *World) QueryNear(center model.Vec3, radius float64) []host.Object {
	if radius < 0 {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	minX := w.coordToCell(center.X - radius)
	maxX := w.coordToCell(center.X + radius)
	minZ := w.coordToCell(center.Z - radius)
	maxZ := w.coordToCell(center.Z + radius)
	r2 := radius * radius

	var ids []int32
	for cx := minX; cx <= maxX; cx++ {
		for cz := minZ; cz <= maxZ; cz++ {
			for _, id := range w.cells[cellKey{X: cx, Z: cz}] {
				e := w.entities[id]
				dx := e.Pos.X - center.X
				dz := e.Pos.Z - center.Z
				if dx*dx+dz*dz <= r2 {
					ids = append(ids, id)
				}
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]host.Object, 0, len(ids))
	views := map[int32]*objectView{}
	for _, id := range ids {
		out = append(out, w.viewLocked(id, views))
	}
	return out
}

func (w *World) viewLocked(id int32, views map[int32]*objectView) *objectView {
	if v, ok := views[id]; ok {
		return v
	}
	e := w.entities[id]
	v := &objectView{e: *e}
	views[id] = v
	if e.Holder != 0 {
		if _, ok := w.entities[e.Holder]; ok {
			v.parent = w.viewLocked(e.Holder, views)
		}
	}
	// Root player: walk up the holder chain.
	for p := v.parent; p != nil; p = p.parent {
		if p.e.Kind == KindPlayer {
			v.root = p
		}
	}
	return v
}

func (w *World) clamp(p model.Vec3) model.Vec3 {
	p.X = math.Min(math.Max(p.X, 0), w.size)
	p.Z = math.Min(math.Max(p.Z, 0), w.size)
	return p
}

func (w *World) coordToCell(v float64) int {
	return int(math.Floor(v * w.invCell))
}

func (w *World) index(id int32) {
	e := w.entities[id]
	key := cellKey{X: w.coordToCell(e.Pos.X), Z: w.coordToCell(e.Pos.Z)}
	if old, ok := w.cellOf[id]; ok {
		if old == key {
			return
		}
		w.unindex(id)
	}
	w.cells[key] = append(w.cells[key], id)
	w.cellOf[id] = key
}

func (w *World) unindex(id int32) {
	key, ok := w.cellOf[id]
	if !ok {
		return
	}
	bucket := w.cells[key]
	for i := range bucket {
		if bucket[i] != id {
			continue
		}
		bucket[i] = bucket[len(bucket)-1]
		bucket = bucket[:len(bucket)-1]
		break
	}
	if len(bucket) == 0 {
		delete(w.cells, key)
	} else {
		w.cells[key] = bucket
	}
	delete(w.cellOf, id)
}

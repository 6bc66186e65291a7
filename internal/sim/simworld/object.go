package simworld

import (
	"splogs.io/internal/sim/host"
	"splogs.io/internal/sim/model"
)

// objectView is a detached copy of an entity as returned by QueryNear.
type objectView struct {
	e      Entity
	parent *objectView
	root   *objectView
}

func (o *objectView) PersistentID() [4]int32 {
	if o.e.Untracked {
		return [4]int32{}
	}
	return [4]int32{o.e.ID, 0, 0, int32(o.e.Kind) + 1}
}

func (o *objectView) TypeName() string    { return o.e.Type }
func (o *objectView) DisplayName() string { return o.e.Name }
func (o *objectView) Position() model.Vec3 {
	return o.e.Pos
}
func (o *objectView) Health01() float64 { return o.e.Health }

func (o *objectView) Quantity() (float64, bool) {
	return o.e.Qty, o.e.HasQty
}

func (o *objectView) IsItem() bool { return o.e.Kind != KindPlayer }

func (o *objectView) RootPlayer() host.Object {
	if o.root == nil {
		return nil
	}
	return o.root
}

func (o *objectView) Parent() host.Object {
	if o.parent == nil {
		return nil
	}
	return o.parent
}

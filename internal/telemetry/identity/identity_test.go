package identity

import (
	"testing"

	"splogs.io/internal/sim/host"
	"splogs.io/internal/sim/model"
)

type stubObject struct {
	pid    [4]int32
	typ    string
	root   host.Object
	parent host.Object
}

func (o *stubObject) PersistentID() [4]int32    { return o.pid }
func (o *stubObject) TypeName() string          { return o.typ }
func (o *stubObject) DisplayName() string       { return o.typ }
func (o *stubObject) Position() model.Vec3      { return model.Vec3{} }
func (o *stubObject) Health01() float64         { return 1 }
func (o *stubObject) Quantity() (float64, bool) { return 0, false }
func (o *stubObject) IsItem() bool              { return true }
func (o *stubObject) RootPlayer() host.Object {
	if o.root == nil {
		return nil
	}
	return o.root
}
func (o *stubObject) Parent() host.Object {
	if o.parent == nil {
		return nil
	}
	return o.parent
}

func TestResolve_Format(t *testing.T) {
	id, ok := Resolve(&stubObject{pid: [4]int32{12, -3, 0, 7}})
	if !ok || id != "p:12:-3:0:7" {
		t.Fatalf("unexpected id %q ok=%v", id, ok)
	}
}

func TestResolve_AllZeroIsUntrackable(t *testing.T) {
	if id, ok := Resolve(&stubObject{}); ok || id != "" {
		t.Fatalf("expected untrackable, got %q ok=%v", id, ok)
	}
	if _, ok := Resolve(nil); ok {
		t.Fatalf("nil object must not resolve")
	}
}

func TestResolve_SingleNonZeroComponentIsTrackable(t *testing.T) {
	for i := 0; i < 4; i++ {
		var pid [4]int32
		pid[i] = 1
		if _, ok := FromParts(pid); !ok {
			t.Fatalf("component %d set: expected trackable", i)
		}
	}
}

func TestHolder(t *testing.T) {
	player := &stubObject{pid: [4]int32{9, 9, 9, 9}, typ: "SurvivorM"}
	box := &stubObject{pid: [4]int32{5, 0, 0, 1}, typ: "WoodenCrate"}

	cls, id := Holder(&stubObject{pid: [4]int32{1, 1, 1, 1}, root: player, parent: box})
	if cls != HolderPlayer || id != "p:9:9:9:9" {
		t.Fatalf("player holder: got %s %s", cls, id)
	}

	cls, id = Holder(&stubObject{pid: [4]int32{1, 1, 1, 1}, parent: box})
	if cls != "WoodenCrate" || id != "p:5:0:0:1" {
		t.Fatalf("container holder: got %s %s", cls, id)
	}

	// An untracked player falls through to the container.
	cls, id = Holder(&stubObject{pid: [4]int32{1, 1, 1, 1}, root: &stubObject{typ: "SurvivorF"}, parent: box})
	if cls != "WoodenCrate" || id != "p:5:0:0:1" {
		t.Fatalf("untracked player: got %s %s", cls, id)
	}

	cls, id = Holder(&stubObject{pid: [4]int32{1, 1, 1, 1}, parent: &stubObject{typ: "Tent"}})
	if cls != HolderWorld || id != "" {
		t.Fatalf("world holder: got %s %q", cls, id)
	}
}

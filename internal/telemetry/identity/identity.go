// Package identity derives canonical ids for trackable objects.
package identity

import (
	"strconv"

	"splogs.io/internal/sim/host"
)

const (
	HolderWorld  = "world"
	HolderPlayer = "player"
)

// Resolve returns the canonical id `p:<a>:<b>:<c>:<d>` built from the
// object's persistent id. Objects without a persistent id are not trackable.
func Resolve(obj host.Object) (string, bool) {
	if obj == nil {
		return "", false
	}
	return FromParts(obj.PersistentID())
}

func FromParts(pid [4]int32) (string, bool) {
	if pid[0] == 0 && pid[1] == 0 && pid[2] == 0 && pid[3] == 0 {
		return "", false
	}
	b := make([]byte, 0, 48)
	b = append(b, 'p')
	for _, v := range pid {
		b = append(b, ':')
		b = strconv.AppendInt(b, int64(v), 10)
	}
	return string(b), true
}

// Holder reports who holds obj. A trackable root player wins over the direct
// parent; anything else counts as lying in the world.
func Holder(obj host.Object) (holderClass, holderID string) {
	if obj == nil {
		return HolderWorld, ""
	}
	if pl := obj.RootPlayer(); pl != nil {
		if id, ok := Resolve(pl); ok {
			return HolderPlayer, id
		}
	}
	if parent := obj.Parent(); parent != nil {
		if id, ok := Resolve(parent); ok {
			return parent.TypeName(), id
		}
	}
	return HolderWorld, ""
}

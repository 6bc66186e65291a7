package scanner

import (
	"splogs.io/internal/protocol"
	"splogs.io/internal/telemetry/state"
)

func (s *Scanner) itemRecord(id string, obs state.Observation) protocol.ItemRecord {
	st := obs.State
	return protocol.ItemRecord{
		Type:        protocol.TypeItem,
		World:       s.world,
		WorldSize:   s.worldSize,
		TS:          s.ts,
		ID:          id,
		Class:       st.Class,
		Name:        protocol.SafeText(obs.Name),
		HP:          obs.Health01,
		HPPercent:   st.HPPct,
		Qty:         st.Qty,
		Pos:         protocol.Pos{X: st.Pos.X, Y: st.Pos.Y, Z: st.Pos.Z},
		HolderClass: st.HolderClass,
		HolderID:    st.HolderID,
		Sig:         protocol.Signature(st.Class, st.HPPct, st.Qty),
	}
}

// snapshotRecord re-emits cached state. The cache does not keep display
// names or fractional health, so the class stands in for the name and hp is
// rebuilt from the percentage.
func (s *Scanner) snapshotRecord(id string, st state.ObservedState) protocol.ItemRecord {
	return protocol.ItemRecord{
		Type:        protocol.TypeItem,
		Snapshot:    true,
		World:       s.world,
		WorldSize:   s.worldSize,
		TS:          s.ts,
		ID:          id,
		Class:       st.Class,
		Name:        protocol.SafeText(st.Class),
		HP:          float64(st.HPPct) / 100,
		HPPercent:   st.HPPct,
		Qty:         st.Qty,
		Pos:         protocol.Pos{X: st.Pos.X, Y: st.Pos.Y, Z: st.Pos.Z},
		HolderClass: st.HolderClass,
		HolderID:    st.HolderID,
	}
}

func (s *Scanner) removeRecord(id string) protocol.RemoveRecord {
	return protocol.RemoveRecord{
		Type:      protocol.TypeItemRemove,
		World:     s.world,
		WorldSize: s.worldSize,
		TS:        s.ts,
		ID:        id,
	}
}

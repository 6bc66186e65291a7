package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"splogs.io/internal/sim/model"
)

func TestIndexLine_RoundTrip(t *testing.T) {
	st := ObservedState{
		Pos:         model.Vec3{X: 1234.5, Y: -0.25, Z: 7},
		HPPct:       42,
		Class:       "AmmoBox",
		Qty:         17,
		HolderClass: "SeaChest",
		HolderID:    "p:4:3:2:1",
	}
	line := FormatIndexLine("p:1:2:3:4", st)
	if line != "p:1:2:3:4|AmmoBox|42|17|1234.5|-0.25|7|SeaChest|p:4:3:2:1" {
		t.Fatalf("unexpected line %q", line)
	}
	id, got, err := ParseIndexLine(line)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "p:1:2:3:4" {
		t.Fatalf("id: %q", id)
	}
	if diff := cmp.Diff(st, got); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIndexLine_LegacyDefaultsToWorld(t *testing.T) {
	_, st, err := ParseIndexLine("p:1:1:1:1|Rag|100|4|1|2|3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if st.HolderClass != "world" || st.HolderID != "" {
		t.Fatalf("legacy holder: %q %q", st.HolderClass, st.HolderID)
	}
}

func TestReplayIndex_LastWriterWinsAndSkipsMalformed(t *testing.T) {
	in := strings.Join([]string{
		"p:1:0:0:0|Apple|100|-1|0|0|0|world|",
		"",
		"p:2:0:0:0|Knife|50",
		"p:1:0:0:0|Apple|90|-1|5|0|0|player|p:9:9:9:9",
		"p:3:0:0:0|Nail|x|-1|0|0|0",
	}, "\n")

	c := NewCache()
	rs, err := ReplayIndex(strings.NewReader(in), c)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if rs.Lines != 4 || rs.Applied != 2 || rs.Skipped != 2 {
		t.Fatalf("unexpected stats %+v", rs)
	}
	if c.Len() != 1 {
		t.Fatalf("cache len: got %d want 1", c.Len())
	}
	st, ok := c.Get("p:1:0:0:0")
	if !ok || st.HPPct != 90 || st.Pos.X != 5 || st.HolderID != "p:9:9:9:9" {
		t.Fatalf("last line should win: %+v ok=%v", st, ok)
	}
}

func TestLoadIndexFile_MissingIsColdStart(t *testing.T) {
	c := NewCache()
	rs, err := LoadIndexFile(filepath.Join(t.TempDir(), "nope.spcache"), c)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rs.Lines != 0 || c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.Len())
	}
}

func TestIndexWriter_AppendThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "hour_2026-01-02_03.spcache")

	w, err := OpenIndexWriter(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a := ObservedState{Class: "Apple", HPPct: 100, Qty: -1, HolderClass: "world"}
	b := a
	b.Pos.X = 3
	if err := w.Append("p:1:1:1:1", a); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append("p:1:1:1:1", b); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening appends rather than truncating.
	w, err = OpenIndexWriter(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w.Append("p:2:2:2:2", a); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = w.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(string(raw), "\n"); n != 3 {
		t.Fatalf("expected 3 lines, got %d", n)
	}

	c := NewCache()
	if _, err := LoadIndexFile(path, c); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, _ := c.Get("p:1:1:1:1"); got.Pos.X != 3 {
		t.Fatalf("expected later line to win, got %+v", got)
	}
	if c.Len() != 2 {
		t.Fatalf("cache len: %d", c.Len())
	}
}

func TestCacheIDs_SortedCopy(t *testing.T) {
	c := NewCache()
	c.Put("p:2:0:0:0", ObservedState{})
	c.Put("p:1:0:0:0", ObservedState{})
	ids := c.IDs()
	c.Delete("p:1:0:0:0")
	if len(ids) != 2 || ids[0] != "p:1:0:0:0" || ids[1] != "p:2:0:0:0" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestReplayIndex_Tombstone(t *testing.T) {
	in := strings.Join([]string{
		"p:1:0:0:0|Apple|100|-1|0|0|0|world|",
		"p:2:0:0:0|Pear|100|-1|0|0|0|world|",
		FormatTombstone("p:1:0:0:0"),
		"p:3:0:0:0|bogus",
	}, "\n")
	c := NewCache()
	rs, err := ReplayIndex(strings.NewReader(in), c)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if _, ok := c.Get("p:1:0:0:0"); ok {
		t.Fatalf("tombstoned id must be dropped")
	}
	if rs.Removed != 1 || rs.Applied != 2 || rs.Skipped != 1 || c.Len() != 1 {
		t.Fatalf("unexpected stats %+v len=%d", rs, c.Len())
	}
}

func TestReplayIndex_SightingAfterTombstone(t *testing.T) {
	in := FormatTombstone("p:1:0:0:0") + "\n" + "p:1:0:0:0|Apple|100|-1|0|0|0|world|\n"
	c := NewCache()
	if _, err := ReplayIndex(strings.NewReader(in), c); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if _, ok := c.Get("p:1:0:0:0"); !ok {
		t.Fatalf("a later sighting must restore the id")
	}
}

package catalogs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_MissingFilesUseDefaults(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if diff := cmp.Diff(def.Items.Palette, c.Items.Palette); diff != "" {
		t.Fatalf("palette (-default +loaded):\n%s", diff)
	}
	if len(c.Items.ByKind(KindContainer)) == 0 || len(c.Players.Classes) == 0 {
		t.Fatalf("defaults missing containers or players")
	}
}

func TestLoad_ItemsFile(t *testing.T) {
	dir := t.TempDir()
	raw := `[{"id":"Rag","max_qty":6},{"id":"SeaChest","kind":"CONTAINER"}]`
	if err := os.WriteFile(filepath.Join(dir, "items.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff([]string{"Rag", "SeaChest"}, c.Items.Palette); diff != "" {
		t.Fatalf("palette (-want +got):\n%s", diff)
	}
	if c.Items.Defs["Rag"].Kind != KindItem {
		t.Fatalf("empty kind should default to ITEM")
	}
	if c.Items.Digest == "" || c.Items.Digest == Default().Items.Digest {
		t.Fatalf("digest not derived from file")
	}
}

func TestLoad_RejectsBadItems(t *testing.T) {
	for name, raw := range map[string]string{
		"empty id":  `[{"id":""}]`,
		"bad kind":  `[{"id":"X","kind":"VEHICLE"}]`,
		"neg qty":   `[{"id":"X","max_qty":-1}]`,
		"empty set": `[]`,
		"duplicate": `[{"id":"X"},{"id":"X"}]`,
		"not json":  `{`,
	} {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "items.json"), []byte(raw), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(dir); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

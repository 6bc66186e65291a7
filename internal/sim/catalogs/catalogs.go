package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Catalogs are the static object definitions the simulated world spawns from.
type Catalogs struct {
	Items   ItemCatalog
	Players PlayerCatalog
}

type ItemCatalog struct {
	Palette []string
	Defs    map[string]ItemDef
	Digest  string
}

type ItemDef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // "ITEM","CONTAINER"
	// Name is the display name; empty falls back to the class.
	Name string `json:"name,omitempty"`
	// MaxQty > 0 marks stackable items.
	MaxQty float64 `json:"max_qty,omitempty"`
	Weight int     `json:"weight,omitempty"`
}

type PlayerCatalog struct {
	Classes []string `json:"classes"`
	Digest  string   `json:"-"`
}

const (
	KindItem      = "ITEM"
	KindContainer = "CONTAINER"
)

// Load reads items.json and players.json from configDir. Missing files fall
// back to the built-in defaults.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := loadPlayers(filepath.Join(configDir, "players.json"), &c.Players); err != nil {
		return nil, err
	}
	return &c, nil
}

func Default() *Catalogs {
	var c Catalogs
	_ = buildItems(defaultItems, nil, &c.Items)
	c.Players = PlayerCatalog{Classes: append([]string(nil), defaultPlayers...), Digest: sha256Hex(nil)}
	return &c
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return buildItems(defaultItems, nil, out)
		}
		return err
	}
	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	return buildItems(defs, raw, out)
}

func buildItems(defs []ItemDef, raw []byte, out *ItemCatalog) error {
	out.Defs = map[string]ItemDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		switch d.Kind {
		case "":
			d.Kind = KindItem
		case KindItem, KindContainer:
		default:
			return fmt.Errorf("items.json: %s: unknown kind %q", d.ID, d.Kind)
		}
		if d.MaxQty < 0 {
			return fmt.Errorf("items.json: %s: max_qty must be >= 0", d.ID)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("items.json: duplicate id %s", d.ID)
		}
		out.Defs[d.ID] = d
	}
	if len(out.Defs) == 0 {
		return fmt.Errorf("items.json: no items")
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	if raw == nil {
		raw, _ = json.Marshal(defs)
	}
	out.Digest = sha256Hex(raw)
	return nil
}

func loadPlayers(path string, out *PlayerCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Classes = append([]string(nil), defaultPlayers...)
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("players.json: %w", err)
	}
	if len(out.Classes) == 0 {
		return fmt.Errorf("players.json: no classes")
	}
	return nil
}

// ByKind returns the sorted ids of every item of kind.
func (c ItemCatalog) ByKind(kind string) []string {
	var out []string
	for _, id := range c.Palette {
		if c.Defs[id].Kind == kind {
			out = append(out, id)
		}
	}
	return out
}

var defaultItems = []ItemDef{
	{ID: "Apple", Name: "Apple", Weight: 150},
	{ID: "BakedBeansCan", Name: "Baked Beans", Weight: 430},
	{ID: "BandageDressing", Name: "Bandage", Weight: 50},
	{ID: "Rag", Name: "Rags", MaxQty: 6, Weight: 30},
	{ID: "Ammo_556x45", Name: "5.56x45mm Rounds", MaxQty: 60, Weight: 12},
	{ID: "Ammo_9x19", Name: "9x19mm Rounds", MaxQty: 50, Weight: 8},
	{ID: "HuntingKnife", Name: "Hunting Knife", Weight: 300},
	{ID: "Hatchet", Name: "Hatchet", Weight: 900},
	{ID: "WaterBottle", Name: "Water Bottle", Weight: 200},
	{ID: "Nail", Name: "Nails", MaxQty: 99, Weight: 5},
	{ID: "WoodenPlank", Name: "Wooden Plank", MaxQty: 20, Weight: 900},
	{ID: "M4A1", Name: "M4-A1", Weight: 3200},
	{ID: "TaloonBag_Blue", Name: "Taloon Backpack", Kind: KindContainer, Weight: 700},
	{ID: "SeaChest", Name: "Sea Chest", Kind: KindContainer, Weight: 4000},
	{ID: "WoodenCrate", Name: "Wooden Crate", Kind: KindContainer, Weight: 1500},
}

var defaultPlayers = []string{"SurvivorM_Boris", "SurvivorF_Eva", "SurvivorM_Mirek", "SurvivorF_Linda"}

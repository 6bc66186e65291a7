package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the scanner's knobs. Load overlays tuning.yaml on Defaults,
// so a file only needs the keys it changes.
type Tuning struct {
	StartDelayMs  int `yaml:"start_delay_ms"`
	RepeatEveryMs int `yaml:"repeat_every_ms"`
	TickMs        int `yaml:"tick_ms"`

	WorldStep   float64 `yaml:"world_step"`
	QueryRadius float64 `yaml:"query_radius"`
	BatchCells  int     `yaml:"batch_cells"`

	MoveEps  float64 `yaml:"move_eps"`
	HPEpsPct int     `yaml:"hp_eps_pct"`

	LogRemovals        bool `yaml:"log_removals"`
	FullSnapshotEveryN int  `yaml:"full_snapshot_every_n"`

	// WorldSize overrides the name lookup when > 0.
	WorldSize  float64            `yaml:"world_size"`
	WorldSizes map[string]float64 `yaml:"world_sizes"`
	// DefaultWorldSize applies to worlds missing from WorldSizes.
	DefaultWorldSize float64 `yaml:"default_world_size"`

	BaseDir string `yaml:"base_dir"`
}

func Defaults() Tuning {
	return Tuning{
		StartDelayMs:       60000,
		RepeatEveryMs:      60000,
		TickMs:             100,
		WorldStep:          1600,
		QueryRadius:        1200,
		BatchCells:         3,
		MoveEps:            0.25,
		HPEpsPct:           1,
		LogRemovals:        true,
		FullSnapshotEveryN: 10,
		WorldSizes: map[string]float64{
			"chernarus": 15360,
			"enoch":     12800,
			"livonia":   12800,
			"deerisle":  20480,
			"namalsk":   10240,
		},
		DefaultWorldSize: 15360,
		BaseDir:          "./data/SPModding",
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	if len(t.WorldSizes) > 0 {
		norm := make(map[string]float64, len(t.WorldSizes))
		for k, v := range t.WorldSizes {
			norm[strings.ToLower(strings.TrimSpace(k))] = v
		}
		t.WorldSizes = norm
	}
	if t.DefaultWorldSize <= 0 {
		t.DefaultWorldSize = 15360
	}
	if strings.TrimSpace(t.BaseDir) == "" {
		t.BaseDir = Defaults().BaseDir
	}
}

func (t Tuning) Validate() error {
	if t.StartDelayMs < 0 {
		return fmt.Errorf("start_delay_ms must be >= 0")
	}
	if t.RepeatEveryMs <= 0 {
		return fmt.Errorf("repeat_every_ms must be > 0")
	}
	if t.TickMs <= 0 {
		return fmt.Errorf("tick_ms must be > 0")
	}
	if t.WorldStep <= 0 {
		return fmt.Errorf("world_step must be > 0")
	}
	if t.QueryRadius <= 0 {
		return fmt.Errorf("query_radius must be > 0")
	}
	if t.BatchCells <= 0 {
		return fmt.Errorf("batch_cells must be > 0")
	}
	if t.MoveEps < 0 {
		return fmt.Errorf("move_eps must be >= 0")
	}
	if t.HPEpsPct < 0 {
		return fmt.Errorf("hp_eps_pct must be >= 0")
	}
	if t.WorldSize < 0 {
		return fmt.Errorf("world_size must be >= 0")
	}
	for name, size := range t.WorldSizes {
		if size <= 0 {
			return fmt.Errorf("world_sizes[%s] must be > 0", name)
		}
	}
	return nil
}

// WorldSizeFor resolves the square world edge for a world name. Names match
// by substring, so "chernarusplus" maps to the chernarus entry.
func (t Tuning) WorldSizeFor(worldName string) float64 {
	if t.WorldSize > 0 {
		return t.WorldSize
	}
	name := strings.ToLower(worldName)
	best := ""
	for key := range t.WorldSizes {
		if key == "" || !strings.Contains(name, key) {
			continue
		}
		// Longest key wins so overlapping names resolve the same way every run.
		if len(key) > len(best) || (len(key) == len(best) && key < best) {
			best = key
		}
	}
	if best != "" {
		return t.WorldSizes[best]
	}
	if t.DefaultWorldSize > 0 {
		return t.DefaultWorldSize
	}
	return 15360
}

func (t Tuning) StartDelay() time.Duration  { return time.Duration(t.StartDelayMs) * time.Millisecond }
func (t Tuning) RepeatEvery() time.Duration { return time.Duration(t.RepeatEveryMs) * time.Millisecond }
func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickMs) * time.Millisecond
}

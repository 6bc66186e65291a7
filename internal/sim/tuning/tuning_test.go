package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	tune, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune.BatchCells != 3 || tune.WorldStep != 1600 || tune.QueryRadius != 1200 || !tune.LogRemovals || tune.FullSnapshotEveryN != 10 {
		t.Fatalf("unexpected defaults: %+v", tune)
	}
	if tune.TickInterval() != 100*time.Millisecond || tune.RepeatEvery() != time.Minute {
		t.Fatalf("unexpected durations")
	}
}

func TestLoad_OverlaysFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	body := "batch_cells: 8\nlog_removals: false\nworld_sizes:\n  Sakhal: 15360\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tune, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune.BatchCells != 8 || tune.LogRemovals {
		t.Fatalf("file values not applied: %+v", tune)
	}
	if tune.MoveEps != 0.25 {
		t.Fatalf("unset keys must keep defaults, move_eps=%v", tune.MoveEps)
	}
	if tune.WorldSizeFor("sakhal") != 15360 {
		t.Fatalf("world size keys must be case-insensitive")
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	_ = os.WriteFile(p, []byte("world_step: 0\n"), 0o644)
	_, err := Load(p)
	if err == nil || !strings.Contains(err.Error(), "world_step") {
		t.Fatalf("expected world_step error, got %v", err)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	tune, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load configs/tuning.yaml: %v", err)
	}
	if tune.WorldSizeFor("chernarusplus") != 15360 {
		t.Fatalf("chernarus size: %v", tune.WorldSizeFor("chernarusplus"))
	}
}

func TestWorldSizeFor(t *testing.T) {
	tune := Defaults()
	cases := map[string]float64{
		"chernarusplus": 15360,
		"Enoch":         12800,
		"livonia_v2":    12800,
		"DeerIsle":      20480,
		"namalsk":       10240,
		"unknown":       15360,
		"":              15360,
	}
	for name, want := range cases {
		if got := tune.WorldSizeFor(name); got != want {
			t.Fatalf("%q: got %v want %v", name, got, want)
		}
	}
	tune.WorldSize = 4096
	if tune.WorldSizeFor("chernarusplus") != 4096 {
		t.Fatalf("explicit world_size must win")
	}
}

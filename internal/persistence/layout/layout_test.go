package layout

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPeriodKey_UTCHour(t *testing.T) {
	loc := time.FixedZone("X", 5*3600)
	at := time.Date(2026, 7, 1, 2, 59, 59, 0, loc) // 2026-06-30 21:59:59 UTC
	if got := PeriodKey(at); got != "2026-06-30_21" {
		t.Fatalf("period key: %s", got)
	}
}

func TestLayout_PathsAndDirs(t *testing.T) {
	base := filepath.Join(t.TempDir(), "SPModding")
	l := Layout{BaseDir: base}
	if err := l.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	for _, d := range []string{l.LogsDir(), l.StateDir()} {
		if st, err := os.Stat(d); err != nil || !st.IsDir() {
			t.Fatalf("missing dir %s: %v", d, err)
		}
	}
	if got := l.LogPath("2026-01-02_03"); got != filepath.Join(base, "logs", "2026-01-02_03.ljson") {
		t.Fatalf("log path: %s", got)
	}
	if got := l.IndexPath("2026-01-02_03"); got != filepath.Join(base, "state", "hour_2026-01-02_03.spcache") {
		t.Fatalf("index path: %s", got)
	}
	if key, ok := PeriodFromLogPath(l.LogPath("2026-01-02_03")); !ok || key != "2026-01-02_03" {
		t.Fatalf("period from path: %q %v", key, ok)
	}
	if _, ok := PeriodFromLogPath("/tmp/notes.txt"); ok {
		t.Fatalf("non-log path must not parse")
	}
}

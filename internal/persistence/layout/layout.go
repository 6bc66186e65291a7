// Package layout names the files the collector keeps under its base dir:
//
//	<base>/logs/<YYYY-MM-DD_HH>.ljson
//	<base>/state/hour_<YYYY-MM-DD_HH>.spcache
//	<base>/archive/<YYYY-MM-DD_HH>.ljson.zst
package layout

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PeriodLayout is the UTC hour key shared by the log and index files.
const PeriodLayout = "2006-01-02_15"

func PeriodKey(t time.Time) string { return t.UTC().Format(PeriodLayout) }

type Layout struct {
	BaseDir string
}

func (l Layout) LogsDir() string    { return filepath.Join(l.BaseDir, "logs") }
func (l Layout) StateDir() string   { return filepath.Join(l.BaseDir, "state") }
func (l Layout) ArchiveDir() string { return filepath.Join(l.BaseDir, "archive") }

func (l Layout) LogPath(period string) string {
	return filepath.Join(l.LogsDir(), period+".ljson")
}

func (l Layout) IndexPath(period string) string {
	return filepath.Join(l.StateDir(), "hour_"+period+".spcache")
}

func (l Layout) ArchivePath(period string) string {
	return filepath.Join(l.ArchiveDir(), period+".ljson.zst")
}

// EnsureDirs creates the base, logs and state directories if missing.
func (l Layout) EnsureDirs() error {
	for _, d := range []string{l.BaseDir, l.LogsDir(), l.StateDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// PeriodFromLogPath recovers the period key from a log file name.
func PeriodFromLogPath(p string) (string, bool) {
	name := filepath.Base(p)
	if !strings.HasSuffix(name, ".ljson") {
		return "", false
	}
	key := strings.TrimSuffix(name, ".ljson")
	if _, err := time.Parse(PeriodLayout, key); err != nil {
		return "", false
	}
	return key, true
}

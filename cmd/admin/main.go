// Command admin inspects a collector's base directory, its sqlite index and
// a running server's admin endpoints.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"splogs.io/internal/persistence/archive"
	"splogs.io/internal/persistence/layout"
)

var timeNow = time.Now

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "passes":
			passesCmd(os.Args[2:])
			return
		case "compress":
			compressCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

type periodFiles struct {
	Period      string
	LogBytes    int64
	IndexBytes  int64
	ArchiveSize int64
}

// scanPeriods collects every period that has a log, index or archive file.
func scanPeriods(lay layout.Layout) ([]periodFiles, error) {
	byPeriod := map[string]*periodFiles{}
	get := func(p string) *periodFiles {
		pf := byPeriod[p]
		if pf == nil {
			pf = &periodFiles{Period: p}
			byPeriod[p] = pf
		}
		return pf
	}

	dirs := []struct {
		dir    string
		prefix string
		suffix string
		set    func(*periodFiles, int64)
	}{
		{lay.LogsDir(), "", ".ljson", func(pf *periodFiles, n int64) { pf.LogBytes = n }},
		{lay.StateDir(), "hour_", ".spcache", func(pf *periodFiles, n int64) { pf.IndexBytes = n }},
		{lay.ArchiveDir(), "", ".ljson.zst", func(pf *periodFiles, n int64) { pf.ArchiveSize = n }},
	}
	found := false
	for _, d := range dirs {
		ents, err := os.ReadDir(d.dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		found = true
		for _, e := range ents {
			name := e.Name()
			if e.IsDir() || !strings.HasPrefix(name, d.prefix) || !strings.HasSuffix(name, d.suffix) {
				continue
			}
			key := strings.TrimSuffix(strings.TrimPrefix(name, d.prefix), d.suffix)
			if _, ok := layout.PeriodFromLogPath(key + ".ljson"); !ok {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			d.set(get(key), info.Size())
		}
	}
	if !found {
		return nil, fmt.Errorf("no logs, state or archive directory under %s", lay.BaseDir)
	}

	out := make([]periodFiles, 0, len(byPeriod))
	for _, pf := range byPeriod {
		out = append(out, *pf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	baseDir := fs.String("base", "./data/SPModding", "collector base directory")
	_ = fs.Parse(args)

	periods, err := scanPeriods(layout.Layout{BaseDir: *baseDir})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, p := range periods {
		fmt.Printf("%s log=%d index=%d archive=%d\n", p.Period, p.LogBytes, p.IndexBytes, p.ArchiveSize)
	}
}

func compressCmd(args []string) {
	fs := flag.NewFlagSet("compress", flag.ExitOnError)
	baseDir := fs.String("base", "./data/SPModding", "collector base directory")
	period := fs.String("period", "", "period key YYYY-MM-DD_HH (required)")
	removeSource := fs.Bool("remove_source", false, "delete the .ljson after archiving")
	_ = fs.Parse(args)

	p := strings.TrimSpace(*period)
	if _, ok := layout.PeriodFromLogPath(p + ".ljson"); !ok {
		fmt.Fprintln(os.Stderr, "missing or bad -period")
		os.Exit(2)
	}
	lay := layout.Layout{BaseDir: *baseDir}
	if p == layout.PeriodKey(timeNow()) {
		fmt.Fprintln(os.Stderr, "refusing to archive the current period")
		os.Exit(2)
	}
	meta, err := archive.CompressPeriod(lay, p, *removeSource)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compress:", err)
		os.Exit(1)
	}
	fmt.Printf("archived %s lines=%d live_ids=%d bytes=%d->%d sha256=%s\n",
		filepath.Base(lay.ArchivePath(p)), meta.Lines, meta.LiveIDs, meta.RawBytes, meta.CompressedBytes, meta.SHA256)
}

// Command replay verifies period logs: every line is checked against the
// record schemas and folded into the id -> last record map a viewer would
// build. Plain .ljson and archived .ljson.zst files are both accepted.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"splogs.io/internal/persistence/archive"
	"splogs.io/internal/persistence/layout"
	"splogs.io/internal/protocol"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type fileReport struct {
	Path    string          `json:"path"`
	Summary archive.Summary `json:"summary"`
	Invalid int             `json:"invalid"`
	// FirstError is the first schema or decode failure, with its line number.
	FirstError string `json:"first_error,omitempty"`
}

type report struct {
	Files   []fileReport    `json:"files"`
	Summary archive.Summary `json:"summary"`
	Invalid int             `json:"invalid"`
	Live    []string        `json:"live,omitempty"`
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		baseDir  = fs.String("base", "", "collector base directory (used with -period)")
		period   = fs.String("period", "", "period key YYYY-MM-DD_HH; reads the archive if the log is gone")
		lenient  = fs.Bool("lenient", false, "count invalid lines instead of failing")
		asJSON   = fs.Bool("json", false, "print the report as JSON")
		showLive = fs.Bool("live", false, "list ids still present after the fold")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	paths := fs.Args()
	if p := strings.TrimSpace(*period); p != "" {
		path, err := resolvePeriod(layout.Layout{BaseDir: *baseDir}, p)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		fmt.Fprintln(stderr, "usage: replay [-lenient] [-json] [-live] <file.ljson[.zst]>... | -base DIR -period KEY")
		return 2
	}

	v, err := protocol.NewValidator()
	if err != nil {
		fmt.Fprintln(stderr, "schemas:", err)
		return 1
	}

	// Files are folded in order so later periods overwrite earlier ones.
	total := archive.NewFold()
	var rep report
	for _, path := range paths {
		fr, err := verifyFile(path, v, total, *lenient)
		rep.Files = append(rep.Files, fr)
		rep.Invalid += fr.Invalid
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			return 1
		}
	}
	rep.Summary = total.Summary()
	if *showLive {
		rep.Live = total.LiveIDs()
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	} else {
		for _, fr := range rep.Files {
			s := fr.Summary
			fmt.Fprintf(stdout, "%s lines=%d items=%d snapshots=%d removals=%d invalid=%d live=%d\n",
				fr.Path, s.Lines, s.Items, s.Snapshots, s.Removals, fr.Invalid, s.LiveIDs)
		}
		s := rep.Summary
		fmt.Fprintf(stdout, "total lines=%d items=%d snapshots=%d removals=%d invalid=%d live=%d\n",
			s.Lines, s.Items, s.Snapshots, s.Removals, rep.Invalid, s.LiveIDs)
		for _, id := range rep.Live {
			rec, _ := total.Get(id)
			fmt.Fprintf(stdout, "  %s %s hp=%d qty=%d pos=(%.1f,%.1f,%.1f)\n", id, rec.Class, rec.HPPercent, rec.Qty, rec.Pos.X, rec.Pos.Y, rec.Pos.Z)
		}
	}
	if rep.Invalid > 0 && !*lenient {
		return 1
	}
	return 0
}

func resolvePeriod(lay layout.Layout, period string) (string, error) {
	for _, p := range []string{lay.LogPath(period), lay.ArchivePath(period)} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no log or archive for period %s under %s", period, lay.BaseDir)
}

// verifyFile validates and folds one file into total. It returns an error
// for unreadable files and, unless lenient, for the first invalid line.
func verifyFile(path string, v *protocol.Validator, total *archive.Fold, lenient bool) (fileReport, error) {
	fr := fileReport{Path: path}
	rc, err := archive.OpenLog(path)
	if err != nil {
		return fr, err
	}
	defer rc.Close()

	own := archive.NewFold()
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if _, err := v.ValidateLine(line); err != nil {
			fr.Invalid++
			if fr.FirstError == "" {
				fr.FirstError = fmt.Sprintf("line %d: %v", n, err)
			}
			if !lenient {
				fr.Summary = own.Summary()
				return fr, fmt.Errorf("line %d: %w", n, err)
			}
			continue
		}
		_ = own.Apply(line)
		_ = total.Apply(line)
	}
	fr.Summary = own.Summary()
	if err := sc.Err(); err != nil {
		return fr, err
	}
	return fr, nil
}

package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	baseDir := fs.String("base", "./data/SPModding", "collector base directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <base>/index/splogs.sqlite)")
	period := fs.String("period", "", "period filter (passes)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "passes"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*baseDir, "index", "splogs.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "passes":
		err = queryPasses(db, os.Stdout, strings.TrimSpace(*period), *limit)
	case "periods":
		err = queryPeriods(db, os.Stdout, *limit)
	case "catalogs":
		err = queryCatalogs(db, os.Stdout)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-base DIR|-db PATH] [-period P] [-limit N] passes|periods|catalogs")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

type passRow struct {
	PassID        string  `json:"pass_id"`
	Frame         uint64  `json:"frame"`
	World         string  `json:"world"`
	WorldSize     float64 `json:"world_size"`
	Period        string  `json:"period"`
	TS            string  `json:"ts"`
	DurationMS    int64   `json:"duration_ms"`
	Cells         int     `json:"cells"`
	Written       int     `json:"written"`
	Removed       int     `json:"removed"`
	SnapshotItems int     `json:"snapshot_items"`
	Snapshot      bool    `json:"snapshot"`
	CacheSize     int     `json:"cache_size"`
}

func queryPasses(db *sql.DB, w io.Writer, period string, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT pass_id,frame,world,world_size,period,ts,duration_ms,cells,written,removed,snapshot_items,snapshot,cache_size FROM passes ORDER BY finished_at DESC LIMIT ?`
	args := []any{limit}
	if period != "" {
		q = `SELECT pass_id,frame,world,world_size,period,ts,duration_ms,cells,written,removed,snapshot_items,snapshot,cache_size FROM passes WHERE period=? ORDER BY frame DESC LIMIT ?`
		args = []any{period, limit}
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r    passRow
			snap int
		)
		if err := rows.Scan(&r.PassID, &r.Frame, &r.World, &r.WorldSize, &r.Period, &r.TS, &r.DurationMS,
			&r.Cells, &r.Written, &r.Removed, &r.SnapshotItems, &snap, &r.CacheSize); err != nil {
			return err
		}
		r.Snapshot = snap != 0
		printJSON(w, r)
	}
	return rows.Err()
}

type periodRow struct {
	Period          string `json:"period"`
	ArchivePath     string `json:"archive_path"`
	Lines           int    `json:"lines"`
	Items           int    `json:"items"`
	Snapshots       int    `json:"snapshots"`
	Removals        int    `json:"removals"`
	LiveIDs         int    `json:"live_ids"`
	RawBytes        int64  `json:"raw_bytes"`
	CompressedBytes int64  `json:"compressed_bytes"`
	SHA256          string `json:"sha256"`
	RecordedAt      string `json:"recorded_at"`
}

func queryPeriods(db *sql.DB, w io.Writer, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT period,archive_path,lines,items,snapshots,removals,live_ids,raw_bytes,compressed_bytes,sha256,recorded_at FROM periods ORDER BY period DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r periodRow
		if err := rows.Scan(&r.Period, &r.ArchivePath, &r.Lines, &r.Items, &r.Snapshots, &r.Removals, &r.LiveIDs,
			&r.RawBytes, &r.CompressedBytes, &r.SHA256, &r.RecordedAt); err != nil {
			return err
		}
		printJSON(w, r)
	}
	return rows.Err()
}

func queryCatalogs(db *sql.DB, w io.Writer) error {
	rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Name      string `json:"name"`
			Digest    string `json:"digest"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
			return err
		}
		printJSON(w, r)
	}
	return rows.Err()
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

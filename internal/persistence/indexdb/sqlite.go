package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"splogs.io/internal/persistence/archive"
	"splogs.io/internal/sim/catalogs"
	"splogs.io/internal/sim/tuning"
	"splogs.io/internal/telemetry/scanner"
)

// SQLiteIndex is a queryable secondary index of pass summaries and archived
// periods. Writes go through a buffered channel to a single writer
// goroutine and are dropped when it falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropPass   atomic.Uint64
	dropPeriod atomic.Uint64
}

type reqKind int

const (
	reqPass reqKind = iota + 1
	reqPeriod
)

type req struct {
	kind   reqKind
	pass   PassRow
	period PeriodRow
}

// PassRow is the stored form of a scanner pass.
type PassRow struct {
	PassID        string  `json:"pass_id"`
	Frame         uint64  `json:"frame"`
	World         string  `json:"world"`
	WorldSize     float64 `json:"world_size"`
	Period        string  `json:"period"`
	TS            string  `json:"ts"`
	LogPath       string  `json:"log_path"`
	StartedAt     string  `json:"started_at"`
	FinishedAt    string  `json:"finished_at"`
	DurationMS    int64   `json:"duration_ms"`
	Cells         int     `json:"cells"`
	Written       int     `json:"written"`
	Removed       int     `json:"removed"`
	SnapshotItems int     `json:"snapshot_items"`
	Snapshot      bool    `json:"snapshot"`
	CacheSize     int     `json:"cache_size"`
}

// PeriodRow is the stored form of an archived period.
type PeriodRow struct {
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

func NewPassRow(p scanner.PassSummary) PassRow {
	return PassRow{
		PassID:        p.PassID,
		Frame:         p.Frame,
		World:         p.World,
		WorldSize:     p.WorldSize,
		Period:        p.Period,
		TS:            p.TS,
		LogPath:       p.LogPath,
		StartedAt:     p.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:    p.FinishedAt.UTC().Format(time.RFC3339Nano),
		DurationMS:    p.FinishedAt.Sub(p.StartedAt).Milliseconds(),
		Cells:         p.Cells,
		Written:       p.Written,
		Removed:       p.Removed,
		SnapshotItems: p.SnapshotItems,
		Snapshot:      p.Snapshot,
		CacheSize:     p.CacheSize,
	}
}

func NewPeriodRow(meta archive.PeriodArchiveMeta, archivePath string) PeriodRow {
	return PeriodRow{
		Period:          meta.Period,
		ArchivePath:     archivePath,
		Lines:           meta.Lines,
		Items:           meta.Items,
		Snapshots:       meta.Snapshots,
		Removals:        meta.Removals,
		LiveIDs:         meta.LiveIDs,
		RawBytes:        meta.RawBytes,
		CompressedBytes: meta.CompressedBytes,
		SHA256:          meta.SHA256,
		RecordedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 4096)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS passes (
			pass_id TEXT PRIMARY KEY,
			frame INTEGER NOT NULL,
			world TEXT NOT NULL,
			world_size REAL NOT NULL,
			period TEXT NOT NULL,
			ts TEXT NOT NULL,
			log_path TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			written INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			snapshot_items INTEGER NOT NULL,
			snapshot INTEGER NOT NULL,
			cache_size INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_passes_period ON passes(period, frame);`,
		`CREATE INDEX IF NOT EXISTS idx_passes_finished ON passes(finished_at);`,
		`CREATE TABLE IF NOT EXISTS periods (
			period TEXT PRIMARY KEY,
			archive_path TEXT NOT NULL,
			lines INTEGER NOT NULL,
			items INTEGER NOT NULL,
			snapshots INTEGER NOT NULL,
			removals INTEGER NOT NULL,
			live_ids INTEGER NOT NULL,
			raw_bytes INTEGER NOT NULL,
			compressed_bytes INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordPass queues a pass row. It never blocks the scanner.
func (s *SQLiteIndex) RecordPass(p scanner.PassSummary) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqPass, pass: NewPassRow(p)}:
	default:
		// Drop if the indexer falls behind; the .ljson logs remain the source of truth.
		s.dropPass.Add(1)
	}
}

func (s *SQLiteIndex) RecordPeriod(meta archive.PeriodArchiveMeta, archivePath string) {
	if s == nil || s.closed.Load() {
		return
	}
	if meta.Period == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqPeriod, period: NewPeriodRow(meta, archivePath)}:
	default:
		s.dropPeriod.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropPassTotal:   s.dropPass.Load(),
		DropPeriodTotal: s.dropPeriod.Load(),
	}
}

// UpsertCatalogs stores the catalogs and tuning the process runs with, so a
// pass row can be traced back to the settings that produced it.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range catalogRows(configDir, cats, tune) {
		if _, err := stmt.Exec(r.name, r.digest, string(r.data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type catalogRow struct {
	name   string
	digest string
	data   []byte
}

func catalogRows(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) []catalogRow {
	var rows []catalogRow
	if cats != nil {
		var raw []byte
		if configDir != "" {
			raw, _ = os.ReadFile(filepath.Join(configDir, "items.json"))
		}
		if len(raw) == 0 {
			defs := make([]catalogs.ItemDef, 0, len(cats.Items.Palette))
			for _, id := range cats.Items.Palette {
				defs = append(defs, cats.Items.Defs[id])
			}
			raw, _ = json.Marshal(defs)
		}
		rows = append(rows, catalogRow{name: "items_defs", digest: cats.Items.Digest, data: raw})
		if b, err := json.Marshal(cats.Players.Classes); err == nil {
			rows = append(rows, catalogRow{name: "player_classes", digest: cats.Players.Digest, data: b})
		}
	}
	if b, err := json.Marshal(tune); err == nil {
		sum := sha256.Sum256(b)
		rows = append(rows, catalogRow{name: "tuning", digest: hex.EncodeToString(sum[:]), data: b})
	}
	out := rows[:0]
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.data) == 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}

// RecentPasses returns up to limit passes, newest first.
func (s *SQLiteIndex) RecentPasses(ctx context.Context, limit int) ([]PassRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT pass_id,frame,world,world_size,period,ts,log_path,started_at,finished_at,duration_ms,cells,written,removed,snapshot_items,snapshot,cache_size
		FROM passes ORDER BY finished_at DESC, frame DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PassRow
	for rows.Next() {
		var (
			r    PassRow
			snap int
		)
		if err := rows.Scan(&r.PassID, &r.Frame, &r.World, &r.WorldSize, &r.Period, &r.TS, &r.LogPath, &r.StartedAt, &r.FinishedAt,
			&r.DurationMS, &r.Cells, &r.Written, &r.Removed, &r.SnapshotItems, &snap, &r.CacheSize); err != nil {
			return nil, err
		}
		r.Snapshot = snap != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Periods returns every archived period, newest first.
func (s *SQLiteIndex) Periods(ctx context.Context) ([]PeriodRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT period,archive_path,lines,items,snapshots,removals,live_ids,raw_bytes,compressed_bytes,sha256,recorded_at
		FROM periods ORDER BY period DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PeriodRow
	for rows.Next() {
		var r PeriodRow
		if err := rows.Scan(&r.Period, &r.ArchivePath, &r.Lines, &r.Items, &r.Snapshots, &r.Removals, &r.LiveIDs,
			&r.RawBytes, &r.CompressedBytes, &r.SHA256, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertPass, _ := s.db.Prepare(`INSERT OR REPLACE INTO passes(pass_id,frame,world,world_size,period,ts,log_path,started_at,finished_at,duration_ms,cells,written,removed,snapshot_items,snapshot,cache_size) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertPeriod, _ := s.db.Prepare(`INSERT OR REPLACE INTO periods(period,archive_path,lines,items,snapshots,removals,live_ids,raw_bytes,compressed_bytes,sha256,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertPass != nil {
			_ = insertPass.Close()
		}
		if insertPeriod != nil {
			_ = insertPeriod.Close()
		}
	}()

	var tx *sql.Tx
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqPass:
			p := r.pass
			if insertPass != nil {
				snap := 0
				if p.Snapshot {
					snap = 1
				}
				if _, err := tx.Stmt(insertPass).Exec(
					p.PassID, int64(p.Frame), p.World, p.WorldSize, p.Period, p.TS, p.LogPath,
					p.StartedAt, p.FinishedAt, p.DurationMS,
					p.Cells, p.Written, p.Removed, p.SnapshotItems, snap, p.CacheSize,
				); err != nil {
					rollback()
					continue
				}
			}
		case reqPeriod:
			pr := r.period
			if insertPeriod != nil {
				if _, err := tx.Stmt(insertPeriod).Exec(
					pr.Period, pr.ArchivePath, pr.Lines, pr.Items, pr.Snapshots, pr.Removals, pr.LiveIDs,
					pr.RawBytes, pr.CompressedBytes, pr.SHA256, pr.RecordedAt,
				); err != nil {
					rollback()
					continue
				}
			}
		}
		// Commit whenever the queue is drained.
		if len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

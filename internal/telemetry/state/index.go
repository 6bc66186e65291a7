package state

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"splogs.io/internal/sim/model"
	"splogs.io/internal/telemetry/identity"
)

// Index lines: id|class|hpPct|qty|x|y|z|holderClass|holderId
// Lines written before holders were tracked carry only the first 7 fields.
// A removal is recorded as `id|!removed` so a restart does not resurrect
// ids that were already reported gone.
const (
	indexFieldsLegacy = 7
	indexFieldsFull   = 9

	tombstoneMarker = "!removed"
)

type ReplayStats struct {
	Lines   int
	Applied int
	Removed int
	Skipped int
}

func FormatIndexLine(id string, st ObservedState) string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString(id)
	b.WriteByte('|')
	b.WriteString(st.Class)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(st.HPPct))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(st.Qty))
	for _, v := range [3]float64{st.Pos.X, st.Pos.Y, st.Pos.Z} {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	b.WriteByte('|')
	b.WriteString(st.HolderClass)
	b.WriteByte('|')
	b.WriteString(st.HolderID)
	return b.String()
}

func FormatTombstone(id string) string { return id + "|" + tombstoneMarker }

func parseTombstone(line string) (string, bool) {
	id, rest, ok := strings.Cut(line, "|")
	if !ok || id == "" || rest != tombstoneMarker {
		return "", false
	}
	return id, true
}

func ParseIndexLine(line string) (string, ObservedState, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, "|")
	if len(parts) < indexFieldsLegacy {
		return "", ObservedState{}, fmt.Errorf("index line: %d fields", len(parts))
	}
	id := parts[0]
	if id == "" {
		return "", ObservedState{}, errors.New("index line: empty id")
	}
	hp, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", ObservedState{}, fmt.Errorf("index line hp: %w", err)
	}
	qty, err := strconv.Atoi(parts[3])
	if err != nil {
		return "", ObservedState{}, fmt.Errorf("index line qty: %w", err)
	}
	var xyz [3]float64
	for i := range xyz {
		v, err := strconv.ParseFloat(parts[4+i], 64)
		if err != nil {
			return "", ObservedState{}, fmt.Errorf("index line pos: %w", err)
		}
		xyz[i] = v
	}
	st := ObservedState{
		Pos:         model.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]},
		HPPct:       hp,
		Class:       parts[1],
		Qty:         qty,
		HolderClass: identity.HolderWorld,
	}
	if len(parts) >= indexFieldsLegacy+1 {
		st.HolderClass = parts[7]
	}
	if len(parts) >= indexFieldsFull {
		st.HolderID = parts[8]
	}
	return id, st, nil
}

// ReplayIndex folds index lines into cache. Later lines overwrite earlier
// ones; malformed lines are skipped.
func ReplayIndex(r io.Reader, cache *Cache) (ReplayStats, error) {
	var rs ReplayStats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		rs.Lines++
		if id, ok := parseTombstone(line); ok {
			cache.Delete(id)
			rs.Removed++
			continue
		}
		id, st, err := ParseIndexLine(line)
		if err != nil {
			rs.Skipped++
			continue
		}
		cache.Put(id, st)
		rs.Applied++
	}
	return rs, sc.Err()
}

// LoadIndexFile replays path into cache. A missing file is a cold start.
func LoadIndexFile(path string, cache *Cache) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReplayStats{}, nil
		}
		return ReplayStats{}, err
	}
	defer f.Close()
	return ReplayIndex(f, cache)
}

// IndexWriter appends cache entries to a period index file.
type IndexWriter struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

func OpenIndexWriter(path string) (*IndexWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &IndexWriter{path: path, f: f, w: bufio.NewWriterSize(f, 16*1024)}, nil
}

func (w *IndexWriter) Path() string { return w.path }

func (w *IndexWriter) Append(id string, st ObservedState) error {
	if w == nil || w.w == nil {
		return nil
	}
	if _, err := w.w.WriteString(FormatIndexLine(id, st)); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *IndexWriter) AppendRemoval(id string) error {
	if w == nil || w.w == nil {
		return nil
	}
	if _, err := w.w.WriteString(FormatTombstone(id)); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *IndexWriter) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	err1 := w.w.Flush()
	err2 := w.f.Close()
	w.f = nil
	w.w = nil
	if err1 != nil {
		return err1
	}
	return err2
}

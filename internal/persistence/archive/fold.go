package archive

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"splogs.io/internal/protocol"
)

// Summary counts what a period log contained.
type Summary struct {
	Lines     int `json:"lines"`
	Items     int `json:"items"`
	Snapshots int `json:"snapshots"`
	Removals  int `json:"removals"`
	Malformed int `json:"malformed"`
	LiveIDs   int `json:"live_ids"`
}

// Fold rebuilds the id -> last item record map the way a map viewer reads a
// log: item rows (snapshot or not) overwrite, item_remove rows delete.
type Fold struct {
	live map[string]protocol.ItemRecord
	s    Summary
}

func NewFold() *Fold {
	return &Fold{live: map[string]protocol.ItemRecord{}}
}

func (f *Fold) Apply(line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	f.s.Lines++

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		f.s.Malformed++
		return fmt.Errorf("decode: %w", err)
	}
	switch head.Type {
	case protocol.TypeItem:
		var rec protocol.ItemRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			f.s.Malformed++
			if err == nil {
				err = fmt.Errorf("missing id")
			}
			return fmt.Errorf("item: %w", err)
		}
		if rec.Snapshot {
			f.s.Snapshots++
		} else {
			f.s.Items++
		}
		f.live[rec.ID] = rec
	case protocol.TypeItemRemove:
		var rec protocol.RemoveRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			f.s.Malformed++
			if err == nil {
				err = fmt.Errorf("missing id")
			}
			return fmt.Errorf("item_remove: %w", err)
		}
		f.s.Removals++
		delete(f.live, rec.ID)
	default:
		f.s.Malformed++
		return fmt.Errorf("unknown record type %q", head.Type)
	}
	return nil
}

// Read applies every line of r. With lenient set, bad lines are counted in
// Summary.Malformed and skipped; otherwise the first one is returned as an
// error with its line number.
func (f *Fold) Read(r io.Reader, lenient bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if err := f.Apply(sc.Bytes()); err != nil && !lenient {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	return sc.Err()
}

func (f *Fold) Summary() Summary {
	s := f.s
	s.LiveIDs = len(f.live)
	return s
}

func (f *Fold) Get(id string) (protocol.ItemRecord, bool) {
	rec, ok := f.live[id]
	return rec, ok
}

// LiveIDs returns the ids still present, sorted.
func (f *Fold) LiveIDs() []string {
	out := make([]string, 0, len(f.live))
	for id := range f.live {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

package archive

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"splogs.io/internal/persistence/layout"
)

type PeriodArchiveMeta struct {
	Period          string `json:"period"`
	Source          string `json:"source"`
	Archive         string `json:"archive"`
	Lines           int    `json:"lines"`
	Items           int    `json:"items"`
	Snapshots       int    `json:"snapshots"`
	Removals        int    `json:"removals"`
	LiveIDs         int    `json:"live_ids"`
	RawBytes        int64  `json:"raw_bytes"`
	CompressedBytes int64  `json:"compressed_bytes"`
	SHA256          string `json:"sha256"`
	CreatedAt       string `json:"created_at"`
}

// MetaPath is the sidecar written next to an archived period.
func MetaPath(archivePath string) string {
	return strings.TrimSuffix(archivePath, ".ljson.zst") + ".meta.json"
}

// CompressPeriod writes `archive/<period>.ljson.zst` and its meta sidecar
// from the closed period log. The source log is left in place unless
// removeSource is set. Malformed lines are archived as-is and only counted.
func CompressPeriod(lay layout.Layout, period string, removeSource bool) (PeriodArchiveMeta, error) {
	var meta PeriodArchiveMeta
	src := lay.LogPath(period)
	dst := lay.ArchivePath(period)

	in, err := os.Open(src)
	if err != nil {
		return meta, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return meta, err
	}
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return meta, err
	}
	defer func() {
		_ = out.Close()
		_ = os.Remove(tmp)
	}()

	sum := sha256.New()
	enc, err := zstd.NewWriter(io.MultiWriter(out, sum), zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return meta, err
	}
	raw := &countingReader{r: in}
	fold := NewFold()
	if err := fold.Read(io.TeeReader(raw, enc), true); err != nil {
		_ = enc.Close()
		return meta, fmt.Errorf("%s: %w", filepath.Base(src), err)
	}
	if err := enc.Close(); err != nil {
		return meta, err
	}
	if err := out.Sync(); err != nil {
		return meta, err
	}
	st, err := out.Stat()
	if err != nil {
		return meta, err
	}
	if err := out.Close(); err != nil {
		return meta, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return meta, err
	}

	s := fold.Summary()
	meta = PeriodArchiveMeta{
		Period:          period,
		Source:          filepath.Base(src),
		Archive:         filepath.Base(dst),
		Lines:           s.Lines,
		Items:           s.Items,
		Snapshots:       s.Snapshots,
		Removals:        s.Removals,
		LiveIDs:         s.LiveIDs,
		RawBytes:        raw.n,
		CompressedBytes: st.Size(),
		SHA256:          hex.EncodeToString(sum.Sum(nil)),
		CreatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(MetaPath(dst), b, 0o644)
	}
	if removeSource {
		if err := os.Remove(src); err != nil {
			return meta, err
		}
	}
	return meta, nil
}

// OpenLog opens a period log for reading, decompressing `.zst` files.
func OpenLog(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(bufio.NewReaderSize(f, 256*1024))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &zstdReadCloser{dec: dec, f: f}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

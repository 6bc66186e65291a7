package indexdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"splogs.io/internal/persistence/archive"
	"splogs.io/internal/sim/catalogs"
	"splogs.io/internal/sim/tuning"
	"splogs.io/internal/telemetry/scanner"
)

// D1Config points the index at an HTTP ingest worker in front of a
// Cloudflare D1 database.
type D1Config struct {
	Endpoint      string
	Token         string
	WorldID       string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxPending bounds events retained across failed flushes.
	MaxPending int
	// Gzip compresses request bodies (Content-Encoding: gzip).
	Gzip   bool
	Logger *log.Logger
}

// Delays between attempts inside one flush. A flush that exhausts them keeps
// its events for the next tick.
var d1RetryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

const d1TokenHeader = "x-sp-index-token"

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch     chan d1Event
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	dropPass     atomic.Uint64
	dropPeriod   atomic.Uint64
	flushFail    atomic.Uint64
	pendingDrops atomic.Uint64
}

type d1Event struct {
	Kind    string `json:"kind"`
	WorldID string `json:"world_id"`
	Payload any    `json:"payload"`
}

type d1Batch struct {
	Events []d1Event `json:"events"`
	SentAt string    `json:"sent_at"`
}

type d1CatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.WorldID = strings.TrimSpace(cfg.WorldID)
	switch {
	case cfg.Endpoint == "":
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	case cfg.WorldID == "":
		return nil, fmt.Errorf("empty world id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxPending < cfg.BatchSize {
		cfg.MaxPending = 8 * cfg.BatchSize
	}

	d := &D1Index{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan d1Event, 4096),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run()
	}()
	return d, nil
}

// Close flushes what is queued (one attempt) and stops the sender.
func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) RecordPass(p scanner.PassSummary) {
	if !d.accepting() {
		return
	}
	if !d.enqueue("pass", NewPassRow(p)) {
		d.dropPass.Add(1)
	}
}

func (d *D1Index) RecordPeriod(meta archive.PeriodArchiveMeta, archivePath string) {
	if !d.accepting() || meta.Period == "" {
		return
	}
	if !d.enqueue("period", NewPeriodRow(meta, archivePath)) {
		d.dropPeriod.Add(1)
	}
}

func (d *D1Index) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if !d.accepting() {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range catalogRows(configDir, cats, tune) {
		if !d.enqueue("catalog", d1CatalogPayload{Name: r.name, Digest: r.digest, JSON: string(r.data), UpdatedAt: now}) {
			return fmt.Errorf("d1 index queue full; catalog %s not sent", r.name)
		}
	}
	return nil
}

func (d *D1Index) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(d.ch),
		QueueCapacity:     cap(d.ch),
		DropPassTotal:     d.dropPass.Load(),
		DropPeriodTotal:   d.dropPeriod.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		QueueDroppedTotal: d.pendingDrops.Load(),
	}
}

func (d *D1Index) accepting() bool { return d != nil && !d.closed.Load() }

func (d *D1Index) enqueue(kind string, payload any) bool {
	select {
	case d.ch <- d1Event{Kind: kind, WorldID: d.cfg.WorldID, Payload: payload}:
		return true
	default:
		d.printf("d1 index queue full; drop kind=%s world=%s", kind, d.cfg.WorldID)
		return false
	}
}

func (d *D1Index) run() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	var pending []d1Event
	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				if len(pending) > 0 {
					if err := d.post(context.Background(), pending, 1); err != nil {
						d.flushFail.Add(1)
						d.printf("d1 index final flush lost %d event(s): %v", len(pending), err)
					}
				}
				return
			}
			pending = append(pending, ev)
			if len(pending) >= d.cfg.BatchSize {
				pending = d.flush(pending)
			}
		case <-ticker.C:
			pending = d.flush(pending)
		}
	}
}

// flush sends up to BatchSize events and returns what is left. On failure
// the events stay pending; the oldest are dropped past MaxPending.
func (d *D1Index) flush(pending []d1Event) []d1Event {
	if len(pending) == 0 {
		return pending
	}
	n := min(len(pending), d.cfg.BatchSize)
	if err := d.post(context.Background(), pending[:n], len(d1RetryDelays)); err != nil {
		d.flushFail.Add(1)
		d.printf("d1 index flush failed batch=%d pending=%d err=%v", n, len(pending), err)
		if over := len(pending) - d.cfg.MaxPending; over > 0 {
			d.pendingDrops.Add(uint64(over))
			pending = pending[over:]
		}
		return pending
	}
	return append(pending[:0], pending[n:]...)
}

func (d *D1Index) post(ctx context.Context, events []d1Event, attempts int) error {
	body, err := d.encode(d1Batch{Events: events, SentAt: time.Now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d1RetryDelays[min(i-1, len(d1RetryDelays)-1)]):
			}
		}
		if lastErr = d.postOnce(ctx, body); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (d *D1Index) postOnce(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if d.cfg.Token != "" {
		req.Header.Set(d1TokenHeader, d.cfg.Token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
}

func (d *D1Index) encode(b d1Batch) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	if !d.cfg.Gzip {
		return raw, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}

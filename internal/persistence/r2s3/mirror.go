package r2s3

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Putter is the upload half of Client.
type Putter interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

// Stater is implemented by clients that can look up a stored object.
type Stater interface {
	HeadObject(ctx context.Context, objectKey string) (size int64, exists bool, err error)
}

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	SkippedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

type MirrorConfig struct {
	// BaseDir is the data root; object keys are paths relative to it.
	BaseDir string
	// Prefix is prepended to every key, typically the world name.
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	// SkipExisting skips files whose object already exists with the same
	// size. Needs a client that implements Stater.
	SkipExisting bool
	Logger       *log.Logger
}

func (c *MirrorConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.EnqueueWait <= 0 {
		c.EnqueueWait = 25 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	c.Prefix = strings.Trim(filepath.ToSlash(c.Prefix), "/")
}

// Mirror copies finished files to the bucket in the background. It is best
// effort: local files stay authoritative and a saturated queue drops jobs.
type Mirror struct {
	client Putter
	stater Stater
	cfg    MirrorConfig

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued  atomic.Uint64
	saturated atomic.Uint64
	dropped   atomic.Uint64
	skipped   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	lastOK    atomic.Int64
	lastErr   atomic.Int64
}

func NewMirror(client Putter, cfg MirrorConfig) *Mirror {
	cfg.applyDefaults()
	m := &Mirror{
		client: client,
		cfg:    cfg,
		jobs:   make(chan string, cfg.QueueCapacity),
	}
	if st, ok := client.(Stater); ok && cfg.SkipExisting {
		m.stater = st
	}
	m.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go m.worker()
	}
	return m
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for p := range m.jobs {
		m.mirror(p)
	}
}

// Enqueue schedules localPath for upload. It waits at most EnqueueWait for
// queue space and reports whether the job was accepted.
func (m *Mirror) Enqueue(localPath string) bool {
	if m == nil || m.client == nil {
		return false
	}
	m.enqueued.Add(1)

	select {
	case m.jobs <- localPath:
		return true
	default:
		m.saturated.Add(1)
	}

	t := time.NewTimer(m.cfg.EnqueueWait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
		return true
	case <-t.C:
		n := m.dropped.Add(1)
		m.printf("r2 mirror drop local=%s reason=queue_saturated wait_ms=%d dropped_total=%d", localPath, m.cfg.EnqueueWait.Milliseconds(), n)
		return false
	}
}

// Close drains queued uploads and stops the workers.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueued.Load(),
		QueueSaturatedTotal: m.saturated.Load(),
		DroppedTotal:        m.dropped.Load(),
		SkippedTotal:        m.skipped.Load(),
		UploadSuccessTotal:  m.succeeded.Load(),
		UploadFailTotal:     m.failed.Load(),
		LastSuccessUnix:     m.lastOK.Load(),
		LastErrorUnix:       m.lastErr.Load(),
	}
}

func (m *Mirror) mirror(localPath string) {
	key, err := m.ObjectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.printf("r2 mirror skip local=%s err=%v", localPath, err)
		return
	}
	if m.alreadyStored(key, localPath) {
		m.skipped.Add(1)
		m.printf("r2 mirror unchanged key=%s", key)
		return
	}

	err = m.putWithRetry(key, localPath)
	now := time.Now().UTC().Unix()
	if err != nil {
		m.failed.Add(1)
		m.lastErr.Store(now)
		m.printf("r2 mirror upload failed key=%s local=%s attempts=%d err=%v", key, localPath, m.cfg.MaxAttempts, err)
		return
	}
	m.succeeded.Add(1)
	m.lastOK.Store(now)
	m.printf("r2 mirror uploaded key=%s", key)
}

// alreadyStored reports whether key exists remotely with the local size.
// Lookup errors fall through to an upload.
func (m *Mirror) alreadyStored(key, localPath string) bool {
	if m.stater == nil {
		return false
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	size, ok, err := m.stater.HeadObject(ctx, key)
	return err == nil && ok && size == info.Size()
}

func (m *Mirror) putWithRetry(key, localPath string) error {
	var errs []error
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		errs = append(errs, err)
		if attempt >= m.cfg.MaxAttempts {
			return errors.Join(errs...)
		}
		time.Sleep(time.Duration(attempt*attempt) * m.cfg.RetryBackoff)
	}
}

// ObjectKey maps a file under BaseDir to `<prefix>/<relative path>`.
func (m *Mirror) ObjectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", errors.New("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	base, err := filepath.Abs(m.cfg.BaseDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", abs, base)
	}
	return path.Join(m.cfg.Prefix, rel), nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Printf(format, args...)
	}
}

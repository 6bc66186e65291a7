package main

import (
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"splogs.io/internal/persistence/archive"
	"splogs.io/internal/persistence/indexdb"
	"splogs.io/internal/persistence/layout"
)

// periodArchiver compresses closed period logs off the scanner goroutine,
// records them in the index and hands the results to the R2 mirror.
type periodArchiver struct {
	lay          layout.Layout
	idx          indexdb.Index
	mirror       *r2MirrorRuntime
	removeSource bool
	log          *log.Logger

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	archivedTotal atomic.Uint64
	failedTotal   atomic.Uint64
	droppedTotal  atomic.Uint64
}

func newPeriodArchiver(lay layout.Layout, idx indexdb.Index, mirror *r2MirrorRuntime, removeSource bool, logger *log.Logger) *periodArchiver {
	a := &periodArchiver{
		lay:          lay,
		idx:          idx,
		mirror:       mirror,
		removeSource: removeSource,
		log:          logger,
		jobs:         make(chan string, 64),
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for period := range a.jobs {
			a.archive(period)
		}
	}()
	return a
}

// OnRotate is the period writer's rotation hook. It runs under the writer
// lock, so it only queues the work.
func (a *periodArchiver) OnRotate(prevPath string) {
	period, ok := layout.PeriodFromLogPath(prevPath)
	if !ok {
		return
	}
	a.enqueue(period)
}

// SweepClosed queues every log older than current that has no archive yet,
// oldest first. Used at startup to catch periods closed by a previous run.
func (a *periodArchiver) SweepClosed(current string) int {
	ents, err := os.ReadDir(a.lay.LogsDir())
	if err != nil {
		return 0
	}
	var periods []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		period, ok := layout.PeriodFromLogPath(e.Name())
		if !ok || strings.Compare(period, current) >= 0 {
			continue
		}
		if _, err := os.Stat(a.lay.ArchivePath(period)); err == nil {
			continue
		}
		periods = append(periods, period)
	}
	sort.Strings(periods)
	n := 0
	for _, p := range periods {
		if a.enqueue(p) {
			n++
		}
	}
	return n
}

func (a *periodArchiver) enqueue(period string) bool {
	select {
	case a.jobs <- period:
		return true
	default:
		a.droppedTotal.Add(1)
		a.printf("archive queue full; skip period=%s", period)
		return false
	}
}

func (a *periodArchiver) archive(period string) {
	meta, err := archive.CompressPeriod(a.lay, period, a.removeSource)
	if err != nil {
		a.failedTotal.Add(1)
		a.printf("archive period=%s: %v", period, err)
		return
	}
	a.archivedTotal.Add(1)
	archivePath := a.lay.ArchivePath(period)
	a.printf("archived period=%s lines=%d live_ids=%d bytes=%d->%d", period, meta.Lines, meta.LiveIDs, meta.RawBytes, meta.CompressedBytes)

	if a.idx != nil {
		a.idx.RecordPeriod(meta, archivePath)
	}
	a.mirror.Enqueue(archivePath)
	a.mirror.enqueueIfExists(archive.MetaPath(archivePath))
}

// Close finishes queued archives.
func (a *periodArchiver) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		close(a.jobs)
		a.wg.Wait()
	})
}

type archiverStats struct {
	QueueDepth    int
	ArchivedTotal uint64
	FailedTotal   uint64
	DroppedTotal  uint64
}

func (a *periodArchiver) Stats() archiverStats {
	if a == nil {
		return archiverStats{}
	}
	return archiverStats{
		QueueDepth:    len(a.jobs),
		ArchivedTotal: a.archivedTotal.Load(),
		FailedTotal:   a.failedTotal.Load(),
		DroppedTotal:  a.droppedTotal.Load(),
	}
}

func (a *periodArchiver) printf(format string, args ...any) {
	if a.log != nil {
		a.log.Printf(format, args...)
	}
}

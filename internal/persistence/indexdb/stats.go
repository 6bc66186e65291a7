package indexdb

import (
	"context"

	"splogs.io/internal/persistence/archive"
	"splogs.io/internal/sim/catalogs"
	"splogs.io/internal/sim/tuning"
	"splogs.io/internal/telemetry/scanner"
)

// Stats reports queue pressure for /metrics. Fields a backend does not use
// stay zero.
type Stats struct {
	QueueDepth      int
	QueueCapacity   int
	DropPassTotal   uint64
	DropPeriodTotal uint64
	// D1 only.
	FlushFailTotal    uint64
	QueueDroppedTotal uint64
}

// Index is implemented by every backend.
type Index interface {
	scanner.PassRecorder
	RecordPeriod(meta archive.PeriodArchiveMeta, archivePath string)
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	Stats() Stats
	Close() error
}

// PassLister is implemented by backends that can be queried locally.
type PassLister interface {
	RecentPasses(ctx context.Context, limit int) ([]PassRow, error)
	Periods(ctx context.Context) ([]PeriodRow, error)
}

var (
	_ Index      = (*SQLiteIndex)(nil)
	_ PassLister = (*SQLiteIndex)(nil)
	_ Index      = (*D1Index)(nil)
)

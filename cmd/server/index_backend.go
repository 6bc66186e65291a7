package main

import (
	"fmt"
	"log"
	"path/filepath"

	"splogs.io/internal/persistence/indexdb"
	"splogs.io/internal/persistence/layout"
	"splogs.io/internal/telemetry/scanner"
)

func openRuntimeIndex(lay layout.Layout, worldID string, disableDB bool, e serverEnv, logger *log.Logger) (indexdb.Index, error) {
	if disableDB {
		return nil, nil
	}

	switch e.IndexBackend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(lay.BaseDir, "index", "splogs.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "d1":
		if e.D1IngestURL == "" {
			return nil, fmt.Errorf("SP_INDEX_BACKEND=d1 but SP_INDEX_D1_INGEST_URL is empty")
		}
		idx, err := indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      e.D1IngestURL,
			Token:         e.D1Token,
			WorldID:       worldID,
			BatchSize:     e.D1BatchSize,
			FlushInterval: e.D1FlushInterval,
			Gzip:          e.D1Gzip,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported SP_INDEX_BACKEND: %s", e.IndexBackend)
	}
}

// passRecorder forwards pass summaries to the index when one is open.
type passRecorder struct {
	idx indexdb.Index
}

func (p passRecorder) RecordPass(sum scanner.PassSummary) {
	if p.idx != nil {
		p.idx.RecordPass(sum)
	}
}

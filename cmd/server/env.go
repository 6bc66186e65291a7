package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// serverEnv is the process environment read at startup.
type serverEnv struct {
	DeployEnv string `env:"DEPLOY_ENV"`

	IndexBackend    string        `env:"SP_INDEX_BACKEND" envDefault:"sqlite"`
	D1IngestURL     string        `env:"SP_INDEX_D1_INGEST_URL"`
	D1Token         string        `env:"SP_INDEX_D1_TOKEN"`
	D1BatchSize     int           `env:"SP_INDEX_D1_BATCH_SIZE" envDefault:"128"`
	D1FlushInterval time.Duration `env:"SP_INDEX_D1_FLUSH" envDefault:"500ms"`
	D1Gzip          bool          `env:"SP_INDEX_D1_GZIP" envDefault:"false"`

	R2Mirror          bool          `env:"SP_R2_MIRROR" envDefault:"false"`
	R2Endpoint        string        `env:"SP_R2_ENDPOINT"`
	R2Bucket          string        `env:"SP_R2_BUCKET"`
	R2AccessKeyID     string        `env:"SP_R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string        `env:"SP_R2_SECRET_ACCESS_KEY"`
	R2Prefix          string        `env:"SP_R2_PREFIX"`
	R2UploadWorkers   int           `env:"SP_R2_UPLOAD_WORKERS" envDefault:"2"`
	R2QueueCapacity   int           `env:"SP_R2_QUEUE_CAPACITY" envDefault:"256"`
	R2EnqueueWait     time.Duration `env:"SP_R2_ENQUEUE_WAIT" envDefault:"25ms"`
	R2SkipExisting    bool          `env:"SP_R2_SKIP_EXISTING" envDefault:"true"`

	// EnableAdminHTTP defaults by DEPLOY_ENV when unset.
	EnableAdminHTTP *bool `env:"SP_ENABLE_ADMIN_HTTP"`
	EnablePprofHTTP bool  `env:"SP_ENABLE_PPROF_HTTP" envDefault:"false"`

	ArchiveClosed       bool `env:"SP_ARCHIVE_CLOSED" envDefault:"true"`
	ArchiveRemoveSource bool `env:"SP_ARCHIVE_REMOVE_SOURCE" envDefault:"false"`
}

func loadServerEnv() (serverEnv, error) {
	var e serverEnv
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	e.IndexBackend = strings.ToLower(strings.TrimSpace(e.IndexBackend))
	if e.IndexBackend == "" {
		e.IndexBackend = "sqlite"
	}
	return e, nil
}

func (e serverEnv) adminHTTPEnabled() bool {
	if e.EnableAdminHTTP != nil {
		return *e.EnableAdminHTTP
	}
	switch strings.ToLower(strings.TrimSpace(e.DeployEnv)) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

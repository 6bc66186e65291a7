package main

import (
	"fmt"
	"log"
	"os"

	"splogs.io/internal/persistence/r2s3"
)

type r2MirrorRuntime struct {
	enabled bool
	mirror  *r2s3.Mirror
}

func buildR2MirrorRuntime(baseDir string, e serverEnv, logger *log.Logger) (*r2MirrorRuntime, error) {
	if !e.R2Mirror {
		return &r2MirrorRuntime{enabled: false}, nil
	}
	if e.R2Endpoint == "" || e.R2Bucket == "" || e.R2AccessKeyID == "" || e.R2SecretAccessKey == "" {
		return nil, fmt.Errorf("SP_R2_MIRROR=true but SP_R2_ENDPOINT/SP_R2_BUCKET/SP_R2_ACCESS_KEY_ID/SP_R2_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := r2s3.New(r2s3.Config{
		Endpoint:        e.R2Endpoint,
		Bucket:          e.R2Bucket,
		AccessKeyID:     e.R2AccessKeyID,
		SecretAccessKey: e.R2SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}

	mirror := r2s3.NewMirror(client, r2s3.MirrorConfig{
		BaseDir:       baseDir,
		Prefix:        e.R2Prefix,
		Workers:       e.R2UploadWorkers,
		QueueCapacity: e.R2QueueCapacity,
		EnqueueWait:   e.R2EnqueueWait,
		SkipExisting:  e.R2SkipExisting,
		Logger:        logger,
	})
	return &r2MirrorRuntime{enabled: true, mirror: mirror}, nil
}

func (r *r2MirrorRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

func (r *r2MirrorRuntime) Enqueue(localPath string) {
	if r == nil || !r.enabled || r.mirror == nil {
		return
	}
	r.mirror.Enqueue(localPath)
}

func (r *r2MirrorRuntime) enqueueIfExists(path string) {
	if r == nil || !r.enabled {
		return
	}
	if _, err := os.Stat(path); err == nil {
		r.Enqueue(path)
	}
}

func (r *r2MirrorRuntime) Stats() (r2s3.Stats, bool) {
	if r == nil || !r.enabled || r.mirror == nil {
		return r2s3.Stats{}, false
	}
	return r.mirror.Stats(), true
}

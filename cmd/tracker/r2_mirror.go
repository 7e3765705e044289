package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	persistlog "voxelwatch.ai/internal/persistence/log"
	"voxelwatch.ai/internal/persistence/r2s3"
)

type r2MirrorRuntime struct {
	enabled      bool
	rotateLayout string
	mirror       *r2s3.Mirror
}

func buildR2MirrorRuntime(dataDir string, logger *log.Logger) (*r2MirrorRuntime, error) {
	enabled := envBool("VW_R2_MIRROR", false)
	if !enabled {
		return &r2MirrorRuntime{enabled: false}, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("VW_R2_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("VW_R2_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("VW_R2_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("VW_R2_SECRET_ACCESS_KEY"))
	prefix := strings.TrimSpace(os.Getenv("VW_R2_PREFIX"))

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("VW_R2_MIRROR=true but VW_R2_ENDPOINT/VW_R2_BUCKET/VW_R2_ACCESS_KEY_ID/VW_R2_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := r2s3.New(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		return nil, err
	}
	client.SetRegion(os.Getenv("VW_R2_REGION"))

	mirror := r2s3.NewMirror(client, r2s3.MirrorConfig{
		DataDir:       dataDir,
		Prefix:        prefix,
		Workers:       envInt("VW_R2_UPLOAD_WORKERS", 2),
		QueueCapacity: envInt("VW_R2_QUEUE_CAPACITY", 2048),
	}, logger)

	return &r2MirrorRuntime{
		enabled:      true,
		rotateLayout: "2006-01-02-15-04", // 1-minute segments to lower RPO.
		mirror:       mirror,
	}, nil
}

// attach makes w rotate on the mirror cadence and upload each closed segment.
func (r *r2MirrorRuntime) attach(w *persistlog.JSONLZstdWriter) {
	if r == nil || !r.enabled || w == nil {
		return
	}
	w.SetRotateLayout(r.rotateLayout)
	w.OnRotate = r.Enqueue
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

func (r *r2MirrorRuntime) Stats() r2s3.Stats {
	if r == nil || r.mirror == nil {
		return r2s3.Stats{}
	}
	return r.mirror.Stats()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/identify"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  api_key: secret\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, "retinaface", cfg.Vision.Detector)
	assert.Equal(t, 0.8, cfg.Vision.DetectionThreshold)
	assert.Equal(t, "vgg16", cfg.Vision.FeatureProvider)
	assert.Equal(t, 0.5, cfg.Identification.Threshold())
	assert.Equal(t, 6, cfg.Identification.TopK)
	assert.Equal(t, "dir", cfg.Identification.GallerySource)
	assert.True(t, cfg.Identification.CacheEnabled())
	assert.Equal(t, 1280, cfg.Webcam.Width)
	assert.Equal(t, 720, cfg.Webcam.Height)
	assert.True(t, cfg.Webcam.MirrorEnabled())
	assert.Equal(t, time.Hour, cfg.Storage.FrameRetention)
	assert.Equal(t, "json", cfg.Logging.Format)

	opts, err := cfg.Identification.Options()
	require.NoError(t, err)
	assert.Equal(t, identify.Options{DistanceThreshold: 0.5, TopK: 6, Metric: identify.MetricEuclidean}, opts)
}

func TestLoadExplicitZeroThreshold(t *testing.T) {
	cfg, err := Load(writeConfig(t, "identification:\n  distance_threshold: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Identification.DistanceThreshold)
	assert.Zero(t, cfg.Identification.Threshold())

	opts, err := cfg.Identification.Options()
	require.NoError(t, err)
	assert.Zero(t, opts.DistanceThreshold)
}

func TestLoadEnvZeroThreshold(t *testing.T) {
	t.Setenv("FD_IDENTIFICATION_DISTANCE_THRESHOLD", "0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Zero(t, cfg.Identification.Threshold())
}

func TestLoadYAMLValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  host: db
  name: faceid
  user: fd
  password: pw
vision:
  detector: haar
  feature_provider: facenet
identification:
  distance_threshold: 0.9
  top_k: 3
  metric: cosine
  dedupe: true
  cache_embeddings: false
streams:
  - name: lobby
    url: rtsp://cam/1
    fps: 2
storage:
  frame_retention: 30m
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres://fd:pw@db:5432/faceid?sslmode=disable", cfg.Database.DSN())
	assert.Equal(t, "haar", cfg.Vision.Detector)
	assert.Equal(t, "facenet", cfg.Vision.FeatureProvider)
	assert.False(t, cfg.Identification.CacheEnabled())
	assert.Equal(t, 30*time.Minute, cfg.Storage.FrameRetention)

	opts, err := cfg.Identification.Options()
	require.NoError(t, err)
	assert.Equal(t, identify.MetricCosine, opts.Metric)
	assert.True(t, opts.Dedupe)
	assert.Equal(t, 3, opts.TopK)
	assert.Equal(t, 0.9, opts.DistanceThreshold)

	require.Len(t, cfg.Streams, 1)
	assert.Equal(t, "rtsp", cfg.Streams[0].Type)
	id, err := cfg.Streams[0].StreamID()
	require.NoError(t, err)
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceURL, []byte("rtsp://cam/1")), id)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FD_SERVER_PORT", "9090")
	t.Setenv("FD_SERVER_API_KEY", "from-env")
	t.Setenv("FD_DB_HOST", "pg.internal")
	t.Setenv("FD_IDENTIFICATION_TOP_K", "2")
	t.Setenv("FD_IDENTIFICATION_GALLERY_SOURCE", "minio")
	t.Setenv("FD_VISION_WORKER_COUNT", "8")
	t.Setenv("FD_STORAGE_FRAME_RETENTION", "2h")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8000\n  api_key: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Server.APIKey)
	assert.Equal(t, "pg.internal", cfg.Database.Host)
	assert.Equal(t, 2, cfg.Identification.TopK)
	assert.Equal(t, "minio", cfg.Identification.GallerySource)
	assert.Equal(t, 8, cfg.Vision.WorkerCount)
	assert.Equal(t, 2*time.Hour, cfg.Storage.FrameRetention)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("FD_IDENTIFICATION_GALLERY_DIR", "/data/faces")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/data/faces", cfg.Identification.GalleryDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"negative threshold", "identification:\n  distance_threshold: -1\n", "distance_threshold"},
		{"bad metric", "identification:\n  metric: hamming\n", "metric"},
		{"bad source", "identification:\n  gallery_source: s3\n", "gallery_source"},
		{"detection threshold", "vision:\n  detection_threshold: 2\n", "detection_threshold"},
		{"stream url", "streams:\n  - name: x\n", "url is required"},
		{"stream id", "streams:\n  - id: nope\n    url: rtsp://a\n", "streams[0].id"},
		{"duplicate stream", "streams:\n  - url: rtsp://a\n  - url: rtsp://a\n", "duplicate"},
		{"stream fps", "streams:\n  - url: rtsp://a\n    fps: 50\n", "fps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/your-org/faceid/internal/identify"
)

// EnvPrefix prefixes every environment override, e.g. FD_DB_HOST.
const EnvPrefix = "FD"

// DefaultDistanceThreshold applies when identification.distance_threshold is absent.
const DefaultDistanceThreshold = 0.5

type Config struct {
	Server         ServerConfig         `yaml:"server" envconfig:"server"`
	Database       DatabaseConfig       `yaml:"database" envconfig:"db"`
	NATS           NATSConfig           `yaml:"nats" envconfig:"nats"`
	MinIO          MinIOConfig          `yaml:"minio" envconfig:"minio"`
	Vision         VisionConfig         `yaml:"vision" envconfig:"vision"`
	Identification IdentificationConfig `yaml:"identification" envconfig:"identification"`
	Webcam         WebcamConfig         `yaml:"webcam" envconfig:"webcam"`
	Streams        []StreamConfig       `yaml:"streams" ignored:"true"`
	Storage        StorageConfig        `yaml:"storage" envconfig:"storage"`
	Logging        LoggingConfig        `yaml:"logging" envconfig:"log"`
}

type ServerConfig struct {
	Port   int    `yaml:"port" split_words:"true"`
	APIKey string `yaml:"api_key" split_words:"true"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`
	Name     string `yaml:"name" split_words:"true"`
	User     string `yaml:"user" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
	MaxConns int    `yaml:"max_conns" split_words:"true"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url" split_words:"true"`
}

type MinIOConfig struct {
	Endpoint      string `yaml:"endpoint" split_words:"true"`
	AccessKey     string `yaml:"access_key" split_words:"true"`
	SecretKey     string `yaml:"secret_key" split_words:"true"`
	Bucket        string `yaml:"bucket" split_words:"true"`
	UseSSL        bool   `yaml:"use_ssl" split_words:"true"`
	GalleryPrefix string `yaml:"gallery_prefix" split_words:"true"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir" split_words:"true"`
	ONNXLibrary        string  `yaml:"onnx_library" split_words:"true"`
	Detector           string  `yaml:"detector" split_words:"true"`
	DetectionThreshold float64 `yaml:"detection_threshold" split_words:"true"`
	HaarCascade        string  `yaml:"haar_cascade" split_words:"true"`
	MinFaceSize        int     `yaml:"min_face_size" split_words:"true"`
	AWSRegion          string  `yaml:"aws_region" split_words:"true"`
	FeatureProvider    string  `yaml:"feature_provider" split_words:"true"`
	ProviderPoolSize   int     `yaml:"provider_pool_size" split_words:"true"`
	WorkerCount        int     `yaml:"worker_count" split_words:"true"`
	DefaultFPS         int     `yaml:"default_fps" split_words:"true"`
	MaxFPS             int     `yaml:"max_fps" split_words:"true"`
	FrameWidth         int     `yaml:"frame_width" split_words:"true"`
}

type IdentificationConfig struct {
	GalleryDir        string  `yaml:"gallery_dir" split_words:"true"`
	GallerySource     string  `yaml:"gallery_source" split_words:"true"` // dir | minio
	DistanceThreshold *float64 `yaml:"distance_threshold" split_words:"true"`
	TopK              int     `yaml:"top_k" split_words:"true"`
	Metric            string  `yaml:"metric" split_words:"true"`
	Dedupe            bool    `yaml:"dedupe" split_words:"true"`
	CacheEmbeddings   *bool   `yaml:"cache_embeddings" split_words:"true"`
}

// Options converts the section into session options.
func (c IdentificationConfig) Options() (identify.Options, error) {
	metric, err := identify.ParseMetric(c.Metric)
	if err != nil {
		return identify.Options{}, err
	}
	return identify.Options{
		DistanceThreshold: c.Threshold(),
		TopK:              c.TopK,
		Metric:            metric,
		Dedupe:            c.Dedupe,
	}, nil
}

// Threshold returns the configured distance threshold. An explicit 0 means
// exact matches only; an absent key means DefaultDistanceThreshold.
func (c IdentificationConfig) Threshold() float64 {
	if c.DistanceThreshold == nil {
		return DefaultDistanceThreshold
	}
	return *c.DistanceThreshold
}

func (c IdentificationConfig) CacheEnabled() bool {
	return c.CacheEmbeddings == nil || *c.CacheEmbeddings
}

type WebcamConfig struct {
	Device     int    `yaml:"device" split_words:"true"`
	Width      int    `yaml:"width" split_words:"true"`
	Height     int    `yaml:"height" split_words:"true"`
	Mirror     *bool  `yaml:"mirror" split_words:"true"`
	WindowName string `yaml:"window_name" split_words:"true"`
}

func (c WebcamConfig) MirrorEnabled() bool {
	return c.Mirror == nil || *c.Mirror
}

type StreamConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Type string `yaml:"type"`
	FPS  int    `yaml:"fps"`
}

// StreamID parses ID, or derives a stable one from the URL when ID is empty.
func (s StreamConfig) StreamID() (uuid.UUID, error) {
	if s.ID == "" {
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.URL)), nil
	}
	return uuid.Parse(s.ID)
}

type StorageConfig struct {
	FrameRetention  time.Duration `yaml:"frame_retention" split_words:"true"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" split_words:"true"`
	SaveSnapshots   bool          `yaml:"save_snapshots" split_words:"true"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

// Load reads config from a YAML file, applies FD_* environment overrides,
// fills defaults and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "faceid"
	}
	if cfg.MinIO.GalleryPrefix == "" {
		cfg.MinIO.GalleryPrefix = "gallery"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.Detector == "" {
		cfg.Vision.Detector = "retinaface"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.8
	}
	if cfg.Vision.HaarCascade == "" {
		cfg.Vision.HaarCascade = "models/haarcascade_frontalface_default.xml"
	}
	if cfg.Vision.MinFaceSize == 0 {
		cfg.Vision.MinFaceSize = 40
	}
	if cfg.Vision.AWSRegion == "" {
		cfg.Vision.AWSRegion = "us-east-1"
	}
	if cfg.Vision.FeatureProvider == "" {
		cfg.Vision.FeatureProvider = "vgg16"
	}
	if cfg.Vision.ProviderPoolSize == 0 {
		cfg.Vision.ProviderPoolSize = 2
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.DefaultFPS == 0 {
		cfg.Vision.DefaultFPS = 5
	}
	if cfg.Vision.MaxFPS == 0 {
		cfg.Vision.MaxFPS = 10
	}
	if cfg.Vision.FrameWidth == 0 {
		cfg.Vision.FrameWidth = 1280
	}
	if cfg.Identification.GalleryDir == "" {
		cfg.Identification.GalleryDir = "FaceDB"
	}
	if cfg.Identification.GallerySource == "" {
		cfg.Identification.GallerySource = "dir"
	}
	if cfg.Identification.DistanceThreshold == nil {
		threshold := DefaultDistanceThreshold
		cfg.Identification.DistanceThreshold = &threshold
	}
	if cfg.Identification.TopK == 0 {
		cfg.Identification.TopK = 6
	}
	if cfg.Identification.Metric == "" {
		cfg.Identification.Metric = "euclidean"
	}
	if cfg.Webcam.Width == 0 {
		cfg.Webcam.Width = 1280
	}
	if cfg.Webcam.Height == 0 {
		cfg.Webcam.Height = 720
	}
	if cfg.Webcam.WindowName == "" {
		cfg.Webcam.WindowName = "faceid"
	}
	for i := range cfg.Streams {
		if cfg.Streams[i].FPS == 0 {
			cfg.Streams[i].FPS = cfg.Vision.DefaultFPS
		}
		if cfg.Streams[i].Type == "" {
			cfg.Streams[i].Type = "rtsp"
		}
	}
	if cfg.Storage.FrameRetention == 0 {
		cfg.Storage.FrameRetention = time.Hour
	}
	if cfg.Storage.CleanupInterval == 0 {
		cfg.Storage.CleanupInterval = 10 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	id := c.Identification
	if id.Threshold() < 0 {
		errs = append(errs, fmt.Errorf("identification.distance_threshold must be >= 0, got %v", id.Threshold()))
	}
	if id.TopK < 1 {
		errs = append(errs, fmt.Errorf("identification.top_k must be >= 1, got %d", id.TopK))
	}
	if _, err := identify.ParseMetric(id.Metric); err != nil {
		errs = append(errs, fmt.Errorf("identification.metric: %w", err))
	}
	switch strings.ToLower(id.GallerySource) {
	case "dir", "minio":
	default:
		errs = append(errs, fmt.Errorf("identification.gallery_source must be dir or minio, got %q", id.GallerySource))
	}

	if c.Vision.DetectionThreshold < 0 || c.Vision.DetectionThreshold > 1 {
		errs = append(errs, fmt.Errorf("vision.detection_threshold must be in [0, 1], got %v", c.Vision.DetectionThreshold))
	}
	if c.Vision.ProviderPoolSize < 1 {
		errs = append(errs, fmt.Errorf("vision.provider_pool_size must be >= 1, got %d", c.Vision.ProviderPoolSize))
	}
	if c.Vision.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("vision.worker_count must be >= 1, got %d", c.Vision.WorkerCount))
	}

	seen := make(map[uuid.UUID]bool, len(c.Streams))
	for i, s := range c.Streams {
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("streams[%d].url is required", i))
			continue
		}
		sid, err := s.StreamID()
		if err != nil {
			errs = append(errs, fmt.Errorf("streams[%d].id: %w", i, err))
			continue
		}
		if seen[sid] {
			errs = append(errs, fmt.Errorf("streams[%d]: duplicate stream id %s", i, sid))
		}
		seen[sid] = true
		if s.FPS < 1 || (c.Vision.MaxFPS > 0 && s.FPS > c.Vision.MaxFPS) {
			errs = append(errs, fmt.Errorf("streams[%d].fps must be in [1, %d], got %d", i, c.Vision.MaxFPS, s.FPS))
		}
	}

	return errors.Join(errs...)
}

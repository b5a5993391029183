// Package engine wires configuration into a ready identification stack:
// ONNX runtime, feature provider pool, gallery, session and detector.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identify"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/internal/vision"
)

const (
	SourceDir   = "dir"
	SourceMinIO = "minio"
)

// InitONNX loads the shared library and initializes the runtime. The
// returned func tears the environment down.
func InitONNX(libPath string) (func(), error) {
	if libPath == "" {
		libPath = defaultONNXLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime (%s): %w", libPath, err)
	}
	return func() { _ = ort.DestroyEnvironment() }, nil
}

// defaultONNXLibPath returns the ONNX Runtime shared library name for the
// current operating system.
func defaultONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// GalleryDeps are the optional collaborators of BuildSession.
type GalleryDeps struct {
	Cache    identify.EmbeddingCache
	Objects  storage.ObjectReader
	Observer func(identify.SampleResult)
}

// GallerySource picks the enrollment source named by the configuration.
func GallerySource(cfg *config.Config, objects storage.ObjectReader) (identify.ImageSource, error) {
	switch cfg.Identification.GallerySource {
	case "", SourceDir:
		return identify.NewDirSource(cfg.Identification.GalleryDir), nil
	case SourceMinIO:
		if objects == nil {
			return nil, errors.New("gallery source minio needs an object store")
		}
		return storage.NewGallerySource(objects, cfg.MinIO.GalleryPrefix), nil
	default:
		return nil, fmt.Errorf("unknown gallery source %q", cfg.Identification.GallerySource)
	}
}

// BuildSession embeds the gallery with provider and opens a session over it.
// An empty gallery is logged and tolerated: every face comes back Unknown.
// A missing gallery or a provider mismatch is fatal.
func BuildSession(ctx context.Context, cfg *config.Config, provider identify.FeatureProvider, deps GalleryDeps) (*identify.Session, error) {
	opts, err := cfg.Identification.Options()
	if err != nil {
		return nil, err
	}
	src, err := GallerySource(cfg, deps.Objects)
	if err != nil {
		return nil, err
	}

	var gopts []identify.GalleryOption
	if deps.Cache != nil && cfg.Identification.CacheEnabled() {
		gopts = append(gopts, identify.WithEmbeddingCache(deps.Cache))
	}
	if deps.Observer != nil {
		gopts = append(gopts, identify.WithObserver(deps.Observer))
	}

	start := time.Now()
	g, err := identify.BuildGallery(ctx, src, provider, gopts...)
	switch {
	case err == nil:
	case errors.Is(err, identify.ErrGalleryEmpty):
		slog.Warn("gallery is empty, every face will be reported as unknown",
			"source", src.String(), "provider", provider.Name())
	default:
		return nil, fmt.Errorf("load gallery: %w", err)
	}

	observability.GallerySize.WithLabelValues(provider.Name()).Set(float64(g.Len()))
	slog.Info("gallery loaded",
		"source", g.Source(),
		"provider", provider.Name(),
		"entries", g.Len(),
		"labels", len(g.Labels()),
		"duration", time.Since(start).String(),
	)

	return identify.NewSession(g, opts)
}

// Stack is a complete identification stack built from configuration.
type Stack struct {
	Provider *identify.Pool
	Session  *identify.Session
	Detector vision.FaceDetector
}

// Build creates the provider pool, gallery session and detector. The ONNX
// environment must already be initialized.
func Build(ctx context.Context, cfg *config.Config, deps GalleryDeps) (*Stack, error) {
	kind, err := vision.ParseFeatureProviderKind(cfg.Vision.FeatureProvider)
	if err != nil {
		return nil, err
	}
	pool, err := vision.NewFeatureProvider(kind, cfg.Vision.ModelsDir, cfg.Vision.ProviderPoolSize)
	if err != nil {
		return nil, err
	}

	session, err := BuildSession(ctx, cfg, pool, deps)
	if err != nil {
		pool.Close()
		return nil, err
	}

	detector, err := vision.NewDetector(ctx, cfg.Vision)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Stack{Provider: pool, Session: session, Detector: detector}, nil
}

// Pipeline wraps the stack in a vision.Pipeline, which takes ownership of
// the detector and provider.
func (s *Stack) Pipeline(opts ...vision.PipelineOption) *vision.Pipeline {
	return vision.NewPipeline(s.Detector, s.Session, opts...)
}

func (s *Stack) Close() {
	if s.Detector != nil {
		s.Detector.Close()
	}
	if s.Provider != nil {
		s.Provider.Close()
	}
}

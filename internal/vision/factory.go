package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identify"
)

// FeatureProviderKind selects the embedding network.
type FeatureProviderKind string

const (
	ProviderVGG16   FeatureProviderKind = "vgg16"
	ProviderFaceNet FeatureProviderKind = "facenet"
)

var embedderSpecs = map[FeatureProviderKind]EmbedderSpec{
	ProviderVGG16:   VGG16Spec,
	ProviderFaceNet: FaceNetSpec,
}

// ParseFeatureProviderKind maps a config value to a provider kind.
func ParseFeatureProviderKind(s string) (FeatureProviderKind, error) {
	kind := FeatureProviderKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := embedderSpecs[kind]; !ok {
		return "", fmt.Errorf("unknown feature provider %q (supported: %s, %s)", s, ProviderVGG16, ProviderFaceNet)
	}
	return kind, nil
}

// NewFeatureProvider loads poolSize instances of the kind's network and
// returns them as one pooled provider.
func NewFeatureProvider(kind FeatureProviderKind, modelsDir string, poolSize int) (*identify.Pool, error) {
	spec, ok := embedderSpecs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown feature provider %q", kind)
	}
	if poolSize < 1 {
		poolSize = 1
	}

	instances := make([]identify.FeatureProvider, 0, poolSize)
	closeAll := func() {
		for _, inst := range instances {
			inst.(*Embedder).Close()
		}
	}
	for i := 0; i < poolSize; i++ {
		emb, err := NewEmbedder(modelsDir, spec)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("load %s instance %d: %w", kind, i, err)
		}
		instances = append(instances, emb)
	}

	pool, err := identify.NewPool(instances...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return pool, nil
}

// DetectorKind selects the face localization backend.
type DetectorKind string

const (
	DetectorRetinaFace  DetectorKind = "retinaface"
	DetectorHaar        DetectorKind = "haar"
	DetectorRekognition DetectorKind = "rekognition"
)

type detectorConstructor func(ctx context.Context, cfg config.VisionConfig) (FaceDetector, error)

var detectorConstructors = map[DetectorKind]detectorConstructor{
	DetectorRetinaFace: func(_ context.Context, cfg config.VisionConfig) (FaceDetector, error) {
		return NewRetinaFace(cfg.ModelsDir, float32(cfg.DetectionThreshold))
	},
	DetectorHaar: func(_ context.Context, cfg config.VisionConfig) (FaceDetector, error) {
		return NewHaar(cfg.HaarCascade, cfg.MinFaceSize)
	},
	DetectorRekognition: func(ctx context.Context, cfg config.VisionConfig) (FaceDetector, error) {
		return NewRekognition(ctx, cfg.AWSRegion, float32(cfg.DetectionThreshold))
	},
}

// ParseDetectorKind maps a config value to a detector kind.
func ParseDetectorKind(s string) (DetectorKind, error) {
	kind := DetectorKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := detectorConstructors[kind]; !ok {
		return "", fmt.Errorf("unknown detector %q (supported: %s, %s, %s)", s, DetectorRetinaFace, DetectorHaar, DetectorRekognition)
	}
	return kind, nil
}

// NewDetector builds the detector selected by cfg.Detector.
func NewDetector(ctx context.Context, cfg config.VisionConfig) (FaceDetector, error) {
	kind, err := ParseDetectorKind(cfg.Detector)
	if err != nil {
		return nil, err
	}
	det, err := detectorConstructors[kind](ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load %s detector: %w", kind, err)
	}
	return det, nil
}

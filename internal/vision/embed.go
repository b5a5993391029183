package vision

import (
	"fmt"
	"image"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceid/internal/identify"
)

// EmbedderSpec describes an ONNX feature extraction network.
type EmbedderSpec struct {
	Name       string
	ModelFile  string
	InputName  string
	OutputName string
	InputW     int
	InputH     int
	Dim        int
	Mean       [3]float32
	Std        [3]float32
}

var (
	// VGG16Spec is the VGG-Face fc7 descriptor network.
	VGG16Spec = EmbedderSpec{
		Name:       "vgg16",
		ModelFile:  "vgg16_face.onnx",
		InputName:  "input",
		OutputName: "fc7",
		InputW:     224,
		InputH:     224,
		Dim:        4096,
		Mean:       [3]float32{129.1863, 104.7624, 93.5940},
		Std:        [3]float32{1, 1, 1},
	}

	// FaceNetSpec is the FaceNet (Inception-ResNet) 128-d descriptor network.
	FaceNetSpec = EmbedderSpec{
		Name:       "facenet",
		ModelFile:  "facenet.onnx",
		InputName:  "input",
		OutputName: "embeddings",
		InputW:     160,
		InputH:     160,
		Dim:        128,
		Mean:       [3]float32{127.5, 127.5, 127.5},
		Std:        [3]float32{128, 128, 128},
	}
)

// Embedder extracts face embeddings with an ONNX model. Its session binds
// fixed input/output tensors, so an Embedder serves one call at a time;
// share it through identify.Pool.
type Embedder struct {
	spec         EmbedderSpec
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewEmbedder loads spec.ModelFile from modelsDir.
func NewEmbedder(modelsDir string, spec EmbedderSpec) (*Embedder, error) {
	modelPath := filepath.Join(modelsDir, spec.ModelFile)

	inputShape := ort.NewShape(1, 3, int64(spec.InputH), int64(spec.InputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(spec.Dim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{spec.InputName},
		[]string{spec.OutputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create %s session from %s: %w", spec.Name, modelPath, err)
	}

	return &Embedder{
		spec:         spec,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (e *Embedder) Name() string { return e.spec.Name }
func (e *Embedder) Dim() int     { return e.spec.Dim }

// Embed resizes the crop to the network input, runs it and returns the
// L2-normalized descriptor.
func (e *Embedder) Embed(img image.Image) (identify.Embedding, error) {
	if err := identify.ValidateImage(img); err != nil {
		return nil, err
	}
	input := imageToFloat32CHW(img, e.spec.InputW, e.spec.InputH, e.spec.Mean, e.spec.Std)
	copy(e.inputTensor.GetData(), input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w", e.spec.Name, err)
	}

	embedding := make(identify.Embedding, e.spec.Dim)
	copy(embedding, e.outputTensor.GetData())
	identify.Normalize(embedding)

	return embedding, nil
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceid/internal/identify"
)

// FaceDetector localizes faces in a frame. Implementations are safe for
// concurrent use.
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) ([]identify.FaceLocalization, error)
	Close()
}

// detection is a scored box in source pixel coordinates.
type detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

func toLocalizations(dets []detection) []identify.FaceLocalization {
	out := make([]identify.FaceLocalization, 0, len(dets))
	for _, d := range dets {
		out = append(out, identify.FaceLocalization{
			LeftX:  float64(d.BBox[0]),
			LeftY:  float64(d.BBox[1]),
			RightX: float64(d.BBox[2]),
			RightY: float64(d.BBox[3]),
		})
	}
	return out
}

const retinaFaceModel = "det_10g.onnx"

// RetinaFace runs the det_10g face detector with ONNX Runtime.
type RetinaFace struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// stride configuration for det_10g
var strides = []int{8, 16, 32}

// anchorsPerStride is the number of anchors per pixel at each stride
const anchorsPerStride = 2

// NewRetinaFace loads det_10g.onnx from modelsDir.
func NewRetinaFace(modelsDir string, threshold float32) (*RetinaFace, error) {
	modelPath := filepath.Join(modelsDir, retinaFaceModel)
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g outputs have no batch dimension:
	// scores [N,1], bboxes [N,4] for N = (640/stride)^2 * 2
	type outputSpec struct {
		name  string
		shape ort.Shape
	}
	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)}, // scores stride 8
		{"471", ort.NewShape(3200, 1)},  // scores stride 16
		{"494", ort.NewShape(800, 1)},   // scores stride 32
		{"451", ort.NewShape(12800, 4)}, // bboxes stride 8
		{"474", ort.NewShape(3200, 4)},  // bboxes stride 16
		{"497", ort.NewShape(800, 4)},   // bboxes stride 32
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %d (%s): %w", i, spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &RetinaFace{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect letterboxes the frame into the model input and returns boxes in
// frame pixel coordinates after NMS.
func (d *RetinaFace) Detect(ctx context.Context, img image.Image) ([]identify.FaceLocalization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := identify.ValidateImage(img); err != nil {
		return nil, err
	}
	b := img.Bounds()
	boxed, scale := letterbox(img, d.inputW, d.inputH)
	input := imageToFloat32CHW(boxed, d.inputW, d.inputH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128})

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	dets := decodeRetinaFace(
		[][]float32{d.outputTensors[0].GetData(), d.outputTensors[1].GetData(), d.outputTensors[2].GetData()},
		[][]float32{d.outputTensors[3].GetData(), d.outputTensors[4].GetData(), d.outputTensors[5].GetData()},
		d.inputW, d.inputH, d.threshold, scale,
	)
	for i := range dets {
		dets[i].BBox = [4]float32{
			clampF(dets[i].BBox[0]+float32(b.Min.X), float32(b.Min.X), float32(b.Max.X)),
			clampF(dets[i].BBox[1]+float32(b.Min.Y), float32(b.Min.Y), float32(b.Max.Y)),
			clampF(dets[i].BBox[2]+float32(b.Min.X), float32(b.Min.X), float32(b.Max.X)),
			clampF(dets[i].BBox[3]+float32(b.Min.Y), float32(b.Min.Y), float32(b.Max.Y)),
		}
	}
	return toLocalizations(nms(dets, 0.4)), nil
}

// decodeRetinaFace turns anchor-relative outputs for strides 8/16/32 into
// boxes. Box regressions are distances from the anchor centre in stride
// units; scale maps model pixels back to source pixels.
func decodeRetinaFace(scores, bboxes [][]float32, inputW, inputH int, threshold, scale float32) []detection {
	var out []detection
	for si, stride := range strides {
		fmW := inputW / stride
		fmH := inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					score := scores[si][idx]
					if score >= threshold {
						anchorX := float32(cx) * st
						anchorY := float32(cy) * st
						box := bboxes[si][idx*4 : idx*4+4]
						out = append(out, detection{
							BBox: [4]float32{
								(anchorX - box[0]*st) * scale,
								(anchorY - box[1]*st) * scale,
								(anchorX + box[2]*st) * scale,
								(anchorY + box[3]*st) * scale,
							},
							Confidence: score,
						})
					}
					idx++
				}
			}
		}
	}
	return out
}

func (d *RetinaFace) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs Non-Maximum Suppression, highest confidence first.
func nms(dets []detection, iouThreshold float32) []detection {
	if len(dets) == 0 {
		return dets
	}

	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	keep := make([]bool, len(dets))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(dets); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(dets); j++ {
			if keep[j] && iou(dets[i].BBox, dets[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []detection
	for i, d := range dets {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

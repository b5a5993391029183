package vision

import (
	"context"
	"fmt"
	"image"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/your-org/faceid/internal/identify"
)

// RekognitionAPI is the subset of the Rekognition client used for detection.
type RekognitionAPI interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// Rekognition detects faces with AWS Rekognition DetectFaces.
type Rekognition struct {
	client RekognitionAPI
	// minimum confidence in percent, as reported by Rekognition
	minConfidence float32
}

// NewRekognition builds a detector from the default AWS credential chain.
func NewRekognition(ctx context.Context, region string, threshold float32) (*Rekognition, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewRekognitionWithClient(rekognition.NewFromConfig(awsCfg), threshold), nil
}

// NewRekognitionWithClient uses client directly. threshold is in [0, 1].
func NewRekognitionWithClient(client RekognitionAPI, threshold float32) *Rekognition {
	return &Rekognition{client: client, minConfidence: threshold * 100}
}

func (r *Rekognition) Detect(ctx context.Context, img image.Image) ([]identify.FaceLocalization, error) {
	if err := identify.ValidateImage(img); err != nil {
		return nil, err
	}
	data, err := encodeJPEG(img, 90)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	out, err := r.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image: &types.Image{Bytes: data},
	})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	faces := make([]identify.FaceLocalization, 0, len(out.FaceDetails))
	for _, d := range out.FaceDetails {
		if d.BoundingBox == nil || d.Confidence == nil || *d.Confidence < r.minConfidence {
			continue
		}
		bb := d.BoundingBox
		if bb.Left == nil || bb.Top == nil || bb.Width == nil || bb.Height == nil {
			continue
		}
		// Rekognition boxes are ratios of the image size and may overshoot it
		left := float64(*bb.Left) * w
		top := float64(*bb.Top) * h
		faces = append(faces, identify.FaceLocalization{
			LeftX:  float64(b.Min.X) + left,
			LeftY:  float64(b.Min.Y) + top,
			RightX: float64(b.Min.X) + left + float64(*bb.Width)*w,
			RightY: float64(b.Min.Y) + top + float64(*bb.Height)*h,
		})
	}
	return faces, nil
}

func (r *Rekognition) Close() {}

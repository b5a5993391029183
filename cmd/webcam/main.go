package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gocv.io/x/gocv"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/engine"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/internal/vision"
)

const escKey = 27

var (
	boxColor  = color.RGBA{0, 255, 0, 0}
	textColor = color.RGBA{255, 255, 255, 0}
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	allCandidates := flag.Bool("all-candidates", false, "label every candidate within the threshold, not only the closest")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, "text")

	if err := run(cfg, *allCandidates); err != nil {
		slog.Error("webcam", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, allCandidates bool) error {
	ctx := context.Background()

	destroy, err := engine.InitONNX(cfg.Vision.ONNXLibrary)
	if err != nil {
		return err
	}
	defer destroy()

	var deps engine.GalleryDeps
	if cfg.Identification.GallerySource == engine.SourceMinIO {
		objects, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return err
		}
		deps.Objects = objects
	}

	stack, err := engine.Build(ctx, cfg, deps)
	if err != nil {
		return err
	}
	pipeline := stack.Pipeline()
	defer pipeline.Close()

	cam, err := gocv.OpenVideoCapture(cfg.Webcam.Device)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", cfg.Webcam.Device, err)
	}
	defer cam.Close()
	cam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Webcam.Width))
	cam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Webcam.Height))

	window := gocv.NewWindow(cfg.Webcam.WindowName)
	defer window.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	slog.Info("webcam started", "device", cfg.Webcam.Device, "gallery", stack.Session.Gallery().Len())

	for {
		if ok := cam.Read(&frame); !ok {
			return fmt.Errorf("camera %d closed", cfg.Webcam.Device)
		}
		if frame.Empty() {
			continue
		}
		if cfg.Webcam.MirrorEnabled() {
			gocv.Flip(frame, &frame, 1)
		}

		img, err := frame.ToImage()
		if err != nil {
			return fmt.Errorf("convert frame: %w", err)
		}

		results, err := pipeline.Identify(ctx, img)
		if err != nil {
			slog.Warn("identify frame", "error", err)
		}
		draw(&frame, results, allCandidates)

		window.IMShow(frame)
		if window.WaitKey(1) == escKey {
			return nil
		}
	}
}

const lineHeight = 16

func draw(frame *gocv.Mat, results []vision.FaceResult, allCandidates bool) {
	for _, r := range results {
		rect := r.Face.Rect()
		gocv.Rectangle(frame, rect, boxColor, 2)
		// closest candidate sits right above the box, farther ones stack upward
		for i, text := range overlayLabels(r, allCandidates) {
			pt := image.Pt(rect.Min.X+2, rect.Min.Y-5-i*lineHeight)
			gocv.PutText(frame, text, pt, gocv.FontHersheyPlain, 1.2, textColor, 2)
		}
	}
}

// overlayLabels returns the text drawn for one face, closest first. By
// default only the annotated label is shown; allCandidates lists every
// prediction, or Unknown when there is none.
func overlayLabels(r vision.FaceResult, allCandidates bool) []string {
	if !allCandidates || len(r.Predictions) == 0 {
		return []string{r.Label.String()}
	}
	out := make([]string, len(r.Predictions))
	for i, p := range r.Predictions {
		out[i] = p.String()
	}
	return out
}

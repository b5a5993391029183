package vision

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
)

// imageToFloat32CHW resizes img to targetW x targetH and converts it to CHW
// float32 with per-channel normalization:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := imaging.Resize(img, targetW, targetH, imaging.Linear)
	w, h := targetW, targetH
	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// NRGBA pixel layout: R, G, B, A
			off := resized.PixOffset(x, y)
			rf := float32(resized.Pix[off+0])
			gf := float32(resized.Pix[off+1])
			bf := float32(resized.Pix[off+2])

			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0]
			data[1*h*w+idx] = (gf - mean[1]) / std[1]
			data[2*h*w+idx] = (bf - mean[2]) / std[2]
		}
	}

	return data
}

// letterbox scales img to fit targetW x targetH keeping its aspect ratio and
// pads the rest with black. It returns the padded image and the scale factor
// from model space back to source pixels.
func letterbox(img image.Image, targetW, targetH int) (image.Image, float32) {
	b := img.Bounds()
	scale := float32(b.Dx()) / float32(targetW)
	if s := float32(b.Dy()) / float32(targetH); s > scale {
		scale = s
	}
	w := int(float32(b.Dx()) / scale)
	h := int(float32(b.Dy()) / scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	resized := imaging.Resize(img, w, h, imaging.Linear)
	canvas := imaging.New(targetW, targetH, image.Black)
	return imaging.Paste(canvas, resized, image.Pt(0, 0)), scale
}

// padRect grows r by frac of its size on each side, clamped to bounds.
func padRect(r image.Rectangle, frac float64, bounds image.Rectangle) image.Rectangle {
	padW := int(float64(r.Dx()) * frac)
	padH := int(float64(r.Dy()) * frac)
	return image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(bounds)
}

// encodeJPEG encodes an image as JPEG with the given quality.
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

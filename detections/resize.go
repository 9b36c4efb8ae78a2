package detections

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ValidateInputSize checks a configured network input size. The zero size means unspecified.
func ValidateInputSize(size image.Point) error {
	if size == (image.Point{}) {
		return nil
	}
	if size.X <= 0 || size.Y <= 0 || size.X%SizeMultiple != 0 || size.Y%SizeMultiple != 0 {
		return &InvalidInputSizeError{Size: size}
	}
	return nil
}

// Letterbox scales img to fit inside size keeping its aspect ratio and pads the rest with grey.
func Letterbox(img image.Image, size image.Point) *image.RGBA {
	b := img.Bounds()
	iw, ih := b.Dx(), b.Dy()
	scale := min(float64(size.X)/float64(iw), float64(size.Y)/float64(ih))
	nw, nh := int(float64(iw)*scale), int(float64(ih)*scale)

	resized := imaging.Resize(img, nw, nh, imaging.CatmullRom)
	canvas := imaging.New(size.X, size.Y, color.NRGBA{R: letterboxFill, G: letterboxFill, B: letterboxFill, A: 0xff})
	canvas = imaging.Paste(canvas, resized, image.Pt((size.X-nw)/2, (size.Y-nh)/2))
	return toRGBA(canvas)
}

// CropToMultiple trims img from the bottom-right so both dimensions divide by SizeMultiple.
func CropToMultiple(img image.Image) (*image.RGBA, error) {
	b := img.Bounds()
	w := b.Dx() - b.Dx()%SizeMultiple
	h := b.Dy() - b.Dy()%SizeMultiple
	if w == 0 || h == 0 {
		return nil, errors.Errorf("frame %dx%d is smaller than %d pixels", b.Dx(), b.Dy(), SizeMultiple)
	}
	return toRGBA(imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+w, b.Min.Y+h))), nil
}

// toRGBA returns a copy of img as *image.RGBA anchored at the origin.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// CloneRGBA copies img into a new RGBA buffer.
func CloneRGBA(img image.Image) *image.RGBA {
	return toRGBA(img)
}

package detections

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestValidateInputSize(t *testing.T) {
	test.That(t, ValidateInputSize(image.Pt(416, 416)), test.ShouldBeNil)
	test.That(t, ValidateInputSize(image.Pt(608, 320)), test.ShouldBeNil)
	test.That(t, ValidateInputSize(image.Point{}), test.ShouldBeNil)

	for _, size := range []image.Point{image.Pt(400, 416), image.Pt(416, 0), image.Pt(-32, 32)} {
		err := ValidateInputSize(size)
		var sizeErr *InvalidInputSizeError
		test.That(t, errors.As(err, &sizeErr), test.ShouldBeTrue)
		test.That(t, sizeErr.Size, test.ShouldResemble, size)
	}
}

func TestLetterbox(t *testing.T) {
	red := color.RGBA{R: 255, A: 0xff}
	out := Letterbox(uniformFrame(200, 100, red), image.Pt(416, 416))
	test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 416, 416))

	// scaled to 416x208 and centred vertically
	fill := color.RGBA{R: letterboxFill, G: letterboxFill, B: letterboxFill, A: 0xff}
	test.That(t, out.RGBAAt(0, 0), test.ShouldResemble, fill)
	test.That(t, out.RGBAAt(208, 103), test.ShouldResemble, fill)
	test.That(t, out.RGBAAt(208, 312), test.ShouldResemble, fill)
	centre := out.RGBAAt(208, 208)
	test.That(t, centre.R, test.ShouldBeGreaterThan, uint8(250))
	test.That(t, centre.G, test.ShouldBeLessThan, uint8(5))

	same := uniformFrame(416, 416, grey)
	test.That(t, Letterbox(same, image.Pt(416, 416)).Pix, test.ShouldResemble, same.Pix)
}

func TestCropToMultiple(t *testing.T) {
	out, err := CropToMultiple(uniformFrame(100, 70, grey))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 96, 64))

	sub := uniformFrame(100, 100, grey).SubImage(image.Rect(10, 10, 80, 80))
	out, err = CropToMultiple(sub)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 64, 64))

	_, err = CropToMultiple(uniformFrame(31, 64, grey))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPreprocessor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, G: 0, B: 51, A: 0xff})
	img.SetRGBA(1, 0, color.RGBA{R: 0, G: 102, B: 255, A: 0xff})

	dst := make([]float32, 6)
	NewPreprocessor().Process(img, dst)
	test.That(t, dst, test.ShouldResemble, []float32{1, 0, 0, 0.4, 0.2, 1})

	// non-zero bounds read from the sub-image origin
	sub := img.SubImage(image.Rect(1, 0, 2, 1)).(*image.RGBA)
	dst = make([]float32, 3)
	NewPreprocessor().Process(sub, dst)
	test.That(t, dst, test.ShouldResemble, []float32{0, 0.4, 1})
}

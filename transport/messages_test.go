package transport

import (
	"image"
	"image/color"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/rosai/detector-node/models"
)

func TestImageMessage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	img.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 0xff})
	img.SetRGBA(1, 1, color.RGBA{R: 200, G: 100, B: 50, A: 0xff})
	header := Header{Seq: 7, Stamp: time.Unix(1700000000, 0).UTC(), FrameID: "camera_rgb_optical_frame"}

	t.Run("bgr8", func(t *testing.T) {
		msg, err := NewImageMessage(img, EncodingBGR8, header)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, msg.Step, test.ShouldEqual, uint32(6))
		test.That(t, msg.Data[:3], test.ShouldResemble, []byte{30, 20, 10})

		data, err := Marshal(msg)
		test.That(t, err, test.ShouldBeNil)
		var decoded ImageMessage
		test.That(t, Unmarshal(data, &decoded), test.ShouldBeNil)
		test.That(t, decoded.Header.Seq, test.ShouldEqual, uint32(7))
		test.That(t, decoded.Header.FrameID, test.ShouldEqual, header.FrameID)
		test.That(t, decoded.Header.Stamp.Equal(header.Stamp), test.ShouldBeTrue)

		back, err := decoded.ToRGBA()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back.Pix, test.ShouldResemble, img.Pix)
	})

	t.Run("rgb8", func(t *testing.T) {
		msg, err := NewImageMessage(img, EncodingRGB8, header)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, msg.Data[:3], test.ShouldResemble, []byte{10, 20, 30})
		back, err := msg.ToRGBA()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back.RGBAAt(1, 1), test.ShouldResemble, color.RGBA{R: 200, G: 100, B: 50, A: 0xff})
	})

	t.Run("padded rows", func(t *testing.T) {
		msg := &ImageMessage{
			Width: 1, Height: 2, Encoding: EncodingRGB8, Step: 4,
			Data: []byte{1, 2, 3, 0, 4, 5, 6},
		}
		back, err := msg.ToRGBA()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back.RGBAAt(0, 1), test.ShouldResemble, color.RGBA{R: 4, G: 5, B: 6, A: 0xff})
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NewImageMessage(img, "mono8", header)
		test.That(t, err, test.ShouldNotBeNil)

		for _, msg := range []*ImageMessage{
			{Width: 2, Height: 2, Encoding: "yuv422", Step: 6, Data: make([]byte, 12)},
			{Width: 0, Height: 2, Encoding: EncodingBGR8},
			{Width: 2, Height: 2, Encoding: EncodingBGR8, Step: 4, Data: make([]byte, 12)},
			{Width: 2, Height: 2, Encoding: EncodingBGR8, Step: 6, Data: make([]byte, 11)},
		} {
			_, err := msg.ToRGBA()
			test.That(t, err, test.ShouldNotBeNil)
		}

		test.That(t, Unmarshal([]byte{0xc1}, &ImageMessage{}), test.ShouldNotBeNil)
	})

	t.Run("header larger than data", func(t *testing.T) {
		for _, msg := range []*ImageMessage{
			{Width: 1, Height: 0xffffffff, Encoding: EncodingRGB8, Step: 0xffffffff, Data: make([]byte, 3)},
			{Width: 0x40000000, Height: 0x80000000, Encoding: EncodingBGR8, Step: 0xc0000000, Data: make([]byte, 3)},
			{Width: 0x55555555, Height: 1, Encoding: EncodingRGB8, Step: 0xffffffff, Data: make([]byte, 3)},
		} {
			rgba, err := msg.ToRGBA()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, "image data has 3 bytes")
			test.That(t, rgba, test.ShouldBeNil)
		}
	})
}

func TestDetectorMessage(t *testing.T) {
	det := models.Detection{ClassIndex: 0, Left: 20, Top: 10, Right: 150, Bottom: 200}
	data, err := Marshal(NewDetectorMessage(det))
	test.That(t, err, test.ShouldBeNil)

	var msg DetectorMessage
	test.That(t, Unmarshal(data, &msg), test.ShouldBeNil)
	test.That(t, msg, test.ShouldResemble, DetectorMessage{C: 0, Left: 20, Top: 10, Right: 150, Bottom: 200})
	test.That(t, msg.Detection(), test.ShouldResemble, det)

	test.That(t, NewDetectorMessage(models.NoDetection()), test.ShouldResemble, DetectorMessage{C: -1, Left: -1, Top: -1, Right: -1, Bottom: -1})
}

package transport

import (
	"image"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rosai/detector-node/models"
)

// Supported pixel encodings.
const (
	EncodingBGR8 = "bgr8"
	EncodingRGB8 = "rgb8"
)

// Header stamps a message with its origin.
type Header struct {
	Seq     uint32    `msgpack:"seq"`
	Stamp   time.Time `msgpack:"stamp"`
	FrameID string    `msgpack:"frame_id"`
}

// ImageMessage is an 8-bit, 3-channel, row-major image.
type ImageMessage struct {
	Header      Header `msgpack:"header"`
	Height      uint32 `msgpack:"height"`
	Width       uint32 `msgpack:"width"`
	Encoding    string `msgpack:"encoding"`
	IsBigEndian uint8  `msgpack:"is_bigendian"`
	Step        uint32 `msgpack:"step"`
	Data        []byte `msgpack:"data"`
}

// DetectorMessage is the structured detection record. All fields are -1 when nothing was found.
type DetectorMessage struct {
	C      int32 `msgpack:"c"`
	Left   int32 `msgpack:"left"`
	Top    int32 `msgpack:"top"`
	Right  int32 `msgpack:"right"`
	Bottom int32 `msgpack:"bottom"`
}

func NewDetectorMessage(d models.Detection) DetectorMessage {
	return DetectorMessage{C: d.ClassIndex, Left: d.Left, Top: d.Top, Right: d.Right, Bottom: d.Bottom}
}

func (m DetectorMessage) Detection() models.Detection {
	return models.Detection{ClassIndex: m.C, Left: m.Left, Top: m.Top, Right: m.Right, Bottom: m.Bottom}
}

// Marshal encodes a message for the wire.
func Marshal(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	return b, errors.Wrap(err, "encoding message")
}

// Unmarshal decodes a wire message into v.
func Unmarshal(data []byte, v interface{}) error {
	return errors.Wrap(msgpack.Unmarshal(data, v), "decoding message")
}

// ToRGBA converts the message into an RGB image, swapping channels for bgr8.
func (m *ImageMessage) ToRGBA() (*image.RGBA, error) {
	var swap bool
	switch m.Encoding {
	case EncodingBGR8:
		swap = true
	case EncodingRGB8:
	default:
		return nil, errors.Errorf("unsupported image encoding %q", m.Encoding)
	}
	w, h := int(m.Width), int(m.Height)
	step := int(m.Step)
	if w == 0 || h == 0 {
		return nil, errors.Errorf("empty image %dx%d", w, h)
	}
	if uint64(m.Step) < uint64(m.Width)*3 {
		return nil, errors.Errorf("row step %d too small for width %d", step, w)
	}
	// Bounds are computed in uint64; the int products wrap for large headers.
	if need := uint64(m.Step)*uint64(m.Height-1) + uint64(m.Width)*3; need > uint64(len(m.Data)) {
		return nil, errors.Errorf("image data has %d bytes, want %d", len(m.Data), need)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := m.Data[y*step : y*step+w*3]
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			s, d := src[x*3:x*3+3], dst[x*4:x*4+4]
			if swap {
				d[0], d[1], d[2] = s[2], s[1], s[0]
			} else {
				d[0], d[1], d[2] = s[0], s[1], s[2]
			}
			d[3] = 0xff
		}
	}
	return img, nil
}

// NewImageMessage packs img in the given encoding.
func NewImageMessage(img image.Image, encoding string, header Header) (*ImageMessage, error) {
	var swap bool
	switch encoding {
	case EncodingBGR8:
		swap = true
	case EncodingRGB8:
	default:
		return nil, errors.Errorf("unsupported image encoding %q", encoding)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	msg := &ImageMessage{
		Header:   header,
		Height:   uint32(h),
		Width:    uint32(w),
		Encoding: encoding,
		Step:     uint32(w * 3),
		Data:     make([]byte, w*h*3),
	}

	rgba, ok := img.(*image.RGBA)
	for y := 0; y < h; y++ {
		row := msg.Data[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			var r, g, bl uint8
			if ok {
				i := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl = rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
			} else {
				cr, cg, cb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				r, g, bl = uint8(cr>>8), uint8(cg>>8), uint8(cb>>8)
			}
			p := row[x*3 : x*3+3]
			if swap {
				p[0], p[1], p[2] = bl, g, r
			} else {
				p[0], p[1], p[2] = r, g, bl
			}
		}
	}
	return msg, nil
}

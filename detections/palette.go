package detections

import (
	"image/color"
	"math/rand"

	"github.com/lucasb-eyer/go-colorful"
)

// Palette holds one drawing colour per class index.
type Palette []color.RGBA

// NewPalette spreads n hues evenly around the HSV wheel at full saturation and value, then
// shuffles them with PaletteSeed so adjacent classes get unrelated colours. The shuffle uses a
// private source; the process-wide generator is left alone.
func NewPalette(n int) Palette {
	p := make(Palette, n)
	for i := range p {
		c := colorful.Hsv(360*float64(i)/float64(n), 1, 1)
		p[i] = color.RGBA{
			R: uint8(c.R * 255),
			G: uint8(c.G * 255),
			B: uint8(c.B * 255),
			A: 0xff,
		}
	}
	rng := rand.New(rand.NewSource(PaletteSeed))
	rng.Shuffle(len(p), func(i, j int) { p[i], p[j] = p[j], p[i] })
	return p
}

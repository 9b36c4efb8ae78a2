package detections

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/rosai/detector-node/models"
)

var labelFont *truetype.Font

// init parses the monospace label font.
func init() {
	var err error
	labelFont, err = truetype.Parse(gomono.TTF)
	if err != nil {
		panic(err)
	}
}

// LabelText formats the caption drawn above a detection.
func LabelText(name string, confidence float32) string {
	return fmt.Sprintf("%s %.2f", name, confidence)
}

// BoxThickness is the outline width in pixels for a frame of the given size.
func BoxThickness(frame image.Point) int {
	return max((frame.X+frame.Y)/300, 1)
}

// LabelFontSize is the caption size in pixels for a frame of the given size.
func LabelFontSize(frame image.Point) float64 {
	return math.Max(math.Floor(8e-2*float64(frame.Y)-20), 8)
}

type annotator struct {
	classes ClassCatalog
	palette Palette
}

// drawAll draws the visited candidates onto img in visit order, so the selected candidate
// ends up on top.
func (a *annotator) drawAll(img *image.RGBA, candidates []models.Candidate, visited []int) {
	if len(visited) == 0 {
		return
	}
	frame := img.Bounds().Size()
	dc := gg.NewContextForRGBA(img)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: LabelFontSize(frame)}))
	thickness := BoxThickness(frame)
	for _, i := range visited {
		a.draw(dc, candidates[i], frame, thickness)
	}
}

func (a *annotator) draw(dc *gg.Context, c models.Candidate, frame image.Point, thickness int) {
	col := a.palette[c.ClassIndex]
	label := LabelText(a.classes.Name(c.ClassIndex), c.Confidence)
	lw, lh := dc.MeasureString(label)
	labelW, labelH := int(math.Ceil(lw)), int(math.Ceil(lh))

	box := roundClamp(c.Box, frame)
	origin := image.Pt(box.Left, box.Top+1)
	if box.Top-labelH >= 0 {
		origin = image.Pt(box.Left, box.Top-labelH)
	}

	dc.SetColor(col)
	for i := 0; i < thickness; i++ {
		outline(dc, box.Left+i, box.Top+i, box.Right-i, box.Bottom-i)
	}
	fillRect(dc, origin.X, origin.Y, origin.X+labelW, origin.Y+labelH)

	dc.SetColor(color.Black)
	dc.DrawStringAnchored(label, float64(origin.X), float64(origin.Y), 0, 1)
}

// outline draws a one pixel rectangle border; corners are inclusive.
func outline(dc *gg.Context, x0, y0, x1, y1 int) {
	if x1 < x0 || y1 < y0 {
		return
	}
	fillRect(dc, x0, y0, x1, y0)
	fillRect(dc, x0, y1, x1, y1)
	fillRect(dc, x0, y0, x0, y1)
	fillRect(dc, x1, y0, x1, y1)
}

// fillRect fills the pixels from (x0,y0) to (x1,y1) inclusive.
func fillRect(dc *gg.Context, x0, y0, x1, y1 int) {
	dc.DrawRectangle(float64(x0), float64(y0), float64(x1-x0+1), float64(y1-y0+1))
	dc.Fill()
}

package detections

import (
	"image"
	"math"

	"github.com/rosai/detector-node/models"
)

// pixelBox is a candidate box rounded and clamped to the frame.
type pixelBox struct {
	Top, Left, Bottom, Right int
}

func roundClamp(b models.Box, frame image.Point) pixelBox {
	return pixelBox{
		Top:    clampInt(roundHalfUp(b.Top), 0, frame.Y),
		Left:   clampInt(roundHalfUp(b.Left), 0, frame.X),
		Bottom: clampInt(roundHalfUp(b.Bottom), 0, frame.Y),
		Right:  clampInt(roundHalfUp(b.Right), 0, frame.X),
	}
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Select walks the candidates in reverse detector order, skipping those below scoreThreshold,
// and lets every visited candidate overwrite the current selection. The candidate visited last,
// which is the first one in detector order, becomes the reported detection. The visit order is
// returned so annotation can replay it.
func Select(candidates []models.Candidate, scoreThreshold float64, frame image.Point) (models.Detection, []int) {
	selected := models.NoDetection()
	var visited []int
	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		if float64(c.Confidence) < scoreThreshold {
			continue
		}
		box := roundClamp(c.Box, frame)
		selected = models.Detection{
			ClassIndex: int32(c.ClassIndex),
			Left:       int32(box.Left),
			Top:        int32(box.Top),
			Right:      int32(box.Right),
			Bottom:     int32(box.Bottom),
		}
		visited = append(visited, i)
	}
	return selected, visited
}

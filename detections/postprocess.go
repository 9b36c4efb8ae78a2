package detections

import (
	"image"
	"math"
	"sort"

	"github.com/rosai/detector-node/models"
)

// postprocessor turns raw predictions into candidates: boxes are mapped back from the
// network input into frame pixels, then each class is thresholded and suppressed on its own.
type postprocessor struct {
	numClasses     int
	scoreThreshold float64
	iouThreshold   float64
	maxBoxes       int
	suppress       func(boxes []models.Box, scores []float32, iouThreshold float64) []int
}

func (p *postprocessor) run(preds []Prediction, inputSize, frameSize image.Point) []models.Candidate {
	boxes := make([]models.Box, len(preds))
	for i, pred := range preds {
		boxes[i] = correctBox(pred, inputSize, frameSize)
	}

	var out []models.Candidate
	for c := 0; c < p.numClasses; c++ {
		var (
			classBoxes  []models.Box
			classScores []float32
		)
		for i, pred := range preds {
			if c < len(pred.Scores) && float64(pred.Scores[c]) >= p.scoreThreshold {
				classBoxes = append(classBoxes, boxes[i])
				classScores = append(classScores, pred.Scores[c])
			}
		}
		if len(classBoxes) == 0 {
			continue
		}
		keep := p.suppress(classBoxes, classScores, p.iouThreshold)
		if p.maxBoxes > 0 && len(keep) > p.maxBoxes {
			keep = keep[:p.maxBoxes]
		}
		for _, k := range keep {
			out = append(out, models.Candidate{ClassIndex: c, Confidence: classScores[k], Box: classBoxes[k]})
		}
	}
	return out
}

// correctBox undoes the letterbox applied to a frame of frameSize and returns the box in frame pixels.
func correctBox(p Prediction, inputSize, frameSize image.Point) models.Box {
	inW, inH := float64(inputSize.X), float64(inputSize.Y)
	imW, imH := float64(frameSize.X), float64(frameSize.Y)

	ratio := math.Min(inW/imW, inH/imH)
	newW, newH := math.Round(imW*ratio), math.Round(imH*ratio)
	offX, offY := (inW-newW)/2/inW, (inH-newH)/2/inH
	scaleX, scaleY := inW/newW, inH/newH

	x := (p.X - offX) * scaleX
	y := (p.Y - offY) * scaleY
	w := p.W * scaleX
	h := p.H * scaleY

	return models.Box{
		Top:    (y - h/2) * imH,
		Left:   (x - w/2) * imW,
		Bottom: (y + h/2) * imH,
		Right:  (x + w/2) * imW,
	}
}

// NonMaxSuppression greedily keeps the highest scoring boxes, dropping any box whose IoU with
// an already kept box exceeds iouThreshold. It returns indices in descending score order.
func NonMaxSuppression(boxes []models.Box, scores []float32, iouThreshold float64) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	suppressed := make([]bool, len(boxes))
	var keep []int
	for i, idx := range order {
		if suppressed[idx] {
			continue
		}
		keep = append(keep, idx)
		for _, other := range order[i+1:] {
			if !suppressed[other] && calculateIOU(boxes[idx], boxes[other]) > iouThreshold {
				suppressed[other] = true
			}
		}
	}
	return keep
}

func calculateIOU(box1, box2 models.Box) float64 {
	y1 := math.Max(box1.Top, box2.Top)
	x1 := math.Max(box1.Left, box2.Left)
	y2 := math.Min(box1.Bottom, box2.Bottom)
	x2 := math.Min(box1.Right, box2.Right)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (box1.Right - box1.Left) * (box1.Bottom - box1.Top)
	area2 := (box2.Right - box2.Left) * (box2.Bottom - box2.Top)
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

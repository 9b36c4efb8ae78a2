package detections

import (
	"math"

	"github.com/pkg/errors"
)

// CheckOutputLayout verifies that a network's final layer matches the configured anchors and
// classes: channels == anchors/scales * (classes + 5).
func CheckOutputLayout(layout OutputLayout, numAnchors, numClasses int) error {
	if layout.Scales <= 0 {
		return errors.Errorf("model reports %d output tensors", layout.Scales)
	}
	if numAnchors%layout.Scales != 0 {
		return errors.Errorf("%d anchors cannot be split across %d outputs", numAnchors, layout.Scales)
	}
	want := numAnchors / layout.Scales * (numClasses + 5)
	if layout.Channels != want {
		return errors.Errorf("mismatch between model and given anchor and class sizes: output has %d channels, "+
			"%d anchors over %d outputs with %d classes needs %d", layout.Channels, numAnchors, layout.Scales, numClasses, want)
	}
	return nil
}

// AnchorMasks returns, per output scale, the indices of the anchors that scale predicts.
// Outputs are ordered from the coarsest grid to the finest.
func AnchorMasks(numAnchors, scales int) [][]int {
	switch {
	case scales == 3 && numAnchors == 9:
		return [][]int{{6, 7, 8}, {3, 4, 5}, {0, 1, 2}}
	case scales == 2 && numAnchors == 6:
		// tiny YOLOv3 reuses anchor 3 on the fine scale and never uses anchor 0
		return [][]int{{3, 4, 5}, {1, 2, 3}}
	}
	per := numAnchors / scales
	masks := make([][]int, scales)
	for l := range masks {
		first := (scales - 1 - l) * per
		for a := 0; a < per; a++ {
			masks[l] = append(masks[l], first+a)
		}
	}
	return masks
}

// Head is one raw NCHW output tensor of shape (1, channels, GridH, GridW).
type Head struct {
	Data         []float32
	GridH, GridW int
}

// DecodeHeads turns raw YOLOv3 head outputs into predictions normalised to the network input.
func DecodeHeads(heads []Head, anchors []Anchor, numClasses, inputW, inputH int) ([]Prediction, error) {
	masks := AnchorMasks(len(anchors), len(heads))
	attrs := numClasses + 5

	var preds []Prediction
	for l, head := range heads {
		mask := masks[l]
		plane := head.GridH * head.GridW
		if want := len(mask) * attrs * plane; len(head.Data) != want {
			return nil, errors.Errorf("output %d has %d values, want %d", l, len(head.Data), want)
		}
		for a, anchorIdx := range mask {
			anchor := anchors[anchorIdx]
			base := a * attrs * plane
			at := func(k, cell int) float64 { return float64(head.Data[base+k*plane+cell]) }

			for row := 0; row < head.GridH; row++ {
				for col := 0; col < head.GridW; col++ {
					cell := row*head.GridW + col
					objectness := sigmoid(at(4, cell))
					p := Prediction{
						X:      (sigmoid(at(0, cell)) + float64(col)) / float64(head.GridW),
						Y:      (sigmoid(at(1, cell)) + float64(row)) / float64(head.GridH),
						W:      math.Exp(at(2, cell)) * anchor.W / float64(inputW),
						H:      math.Exp(at(3, cell)) * anchor.H / float64(inputH),
						Scores: make([]float32, numClasses),
					}
					for c := 0; c < numClasses; c++ {
						p.Scores[c] = float32(objectness * sigmoid(at(5+c, cell)))
					}
					preds = append(preds, p)
				}
			}
		}
	}
	return preds, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

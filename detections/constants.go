package detections

import "image"

const (
	DefaultScoreThreshold = 0.3
	DefaultIOUThreshold   = 0.45
	DefaultMaxBoxes       = 20

	// PaletteSeed keeps class colours stable across runs.
	PaletteSeed = 10101

	// SizeMultiple is the network stride every input dimension must divide by.
	SizeMultiple = 32

	letterboxFill = 128
)

// DefaultInputSize is the network input the node resizes frames to.
var DefaultInputSize = image.Pt(416, 416)

// DefaultAnchors are the tiny YOLOv3 priors the pedestrian model was trained with.
var DefaultAnchors = []Anchor{
	{10, 14}, {23, 27}, {37, 58},
	{81, 82}, {135, 169}, {344, 319},
}

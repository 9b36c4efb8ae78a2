package models

import "time"

// Box is a candidate bounding box in pixel coordinates of the frame given to the detector.
type Box struct {
	Top    float64
	Left   float64
	Bottom float64
	Right  float64
}

// Candidate is one detector output after thresholding and non-max suppression.
type Candidate struct {
	ClassIndex int
	Confidence float32
	Box        Box
}

// Detection is the selected detection record published by the node.
type Detection struct {
	ClassIndex int32 `json:"c"`
	Left       int32 `json:"left"`
	Top        int32 `json:"top"`
	Right      int32 `json:"right"`
	Bottom     int32 `json:"bottom"`
}

// NoDetection returns the sentinel reported when no candidate survives thresholding.
func NoDetection() Detection {
	return Detection{ClassIndex: -1, Left: -1, Top: -1, Right: -1, Bottom: -1}
}

// Found reports whether d refers to a real candidate.
func (d Detection) Found() bool {
	return d.ClassIndex >= 0
}

type ProcessingTimings struct {
	RequestID   string
	Convert     time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Annotate    time.Duration
	Publish     time.Duration
	Total       time.Duration
}

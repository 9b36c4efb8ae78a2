// Package darknet rebuilds YOLOv3 from a Darknet network description and loads its weights
// through the OpenCV dnn module.
package darknet

import (
	"context"
	"image"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/rosai/detector-node/detections"
	"github.com/rosai/detector-node/models"
)

func init() {
	detections.RegisterBackend(detections.ArchitectureAndWeights, Open)
}

// Backend is a detections.Backend running a Darknet network with gocv.
type Backend struct {
	net         gocv.Net
	outputNames []string
	layout      detections.OutputLayout
	numClasses  int
	logger      *zap.SugaredLogger
}

// Open parses the architecture file for the output layout and loads the weights into it.
func Open(ctx context.Context, params detections.BackendParams) (detections.Backend, error) {
	src := params.Source
	cfg, err := os.Open(src.ArchitecturePath)
	if err != nil {
		return nil, &detections.ModelLoadError{Path: src.ArchitecturePath, Cause: err}
	}
	layout, err := detections.ParseDarknetLayout(cfg)
	cfg.Close()
	if err != nil {
		return nil, &detections.ModelLoadError{Path: src.ArchitecturePath, Cause: err}
	}
	if _, err := os.Stat(src.WeightsPath); err != nil {
		return nil, &detections.ModelLoadError{Path: src.WeightsPath, Cause: err}
	}

	net := gocv.ReadNetFromDarknet(src.ArchitecturePath, src.WeightsPath)
	if net.Empty() {
		return nil, &detections.ModelLoadError{Path: src.WeightsPath, Cause: errors.New("weights do not match the network description")}
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	layerNames := net.GetLayerNames()
	var outputNames []string
	for _, id := range net.GetUnconnectedOutLayers() {
		outputNames = append(outputNames, layerNames[id-1])
	}

	params.Logger.Infow("opened darknet model",
		"architecture", src.ArchitecturePath,
		"weights", src.WeightsPath,
		"outputs", outputNames,
	)

	return &Backend{
		net:         net,
		outputNames: outputNames,
		layout:      layout,
		numClasses:  params.NumClasses,
		logger:      params.Logger,
	}, nil
}

func (b *Backend) Layout() detections.OutputLayout {
	return b.layout
}

// Predict runs a forward pass. OpenCV's yolo layers already decode anchors, so every output row
// is [cx, cy, w, h, objectness, class scores...] normalised to the input, with class scores
// multiplied by objectness.
func (b *Backend) Predict(ctx context.Context, input *image.RGBA) ([]detections.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageToMatRGB(input)
	if err != nil {
		return nil, errors.Wrap(err, "converting frame")
	}
	defer mat.Close()

	size := input.Bounds().Size()
	blob := gocv.BlobFromImage(mat, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	b.net.SetInput(blob, "")
	outs := b.net.ForwardLayers(b.outputNames)
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()

	var preds []detections.Prediction
	for _, out := range outs {
		if out.Cols() != b.numClasses+5 {
			return nil, errors.Errorf("output has %d columns, want %d", out.Cols(), b.numClasses+5)
		}
		for r := 0; r < out.Rows(); r++ {
			p := detections.Prediction{
				X:      float64(out.GetFloatAt(r, 0)),
				Y:      float64(out.GetFloatAt(r, 1)),
				W:      float64(out.GetFloatAt(r, 2)),
				H:      float64(out.GetFloatAt(r, 3)),
				Scores: make([]float32, b.numClasses),
			}
			for c := 0; c < b.numClasses; c++ {
				p.Scores[c] = out.GetFloatAt(r, 5+c)
			}
			preds = append(preds, p)
		}
	}
	return preds, nil
}

// Suppress runs OpenCV non-max suppression over one class.
func (b *Backend) Suppress(boxes []models.Box, scores []float32, iouThreshold float64) []int {
	rects := make([]image.Rectangle, len(boxes))
	for i, box := range boxes {
		rects[i] = image.Rect(
			int(math.Round(box.Left)), int(math.Round(box.Top)),
			int(math.Round(box.Right)), int(math.Round(box.Bottom)),
		)
	}
	return gocv.NMSBoxes(rects, scores, 0, float32(iouThreshold))
}

func (b *Backend) Close() error {
	return b.net.Close()
}

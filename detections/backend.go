package detections

import (
	"context"
	"image"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rosai/detector-node/models"
)

// ModelKind selects how the detection model is materialised.
type ModelKind string

const (
	// FullModel is a single file carrying both graph and weights (ONNX).
	FullModel = ModelKind("full")
	// ArchitectureAndWeights rebuilds the network from an architecture description and loads
	// weights into it (Darknet .cfg + .weights).
	ArchitectureAndWeights = ModelKind("architecture_and_weights")
)

// ModelSource locates the model files for one ModelKind.
type ModelSource struct {
	Kind             ModelKind
	Path             string
	ArchitecturePath string
	WeightsPath      string
}

// Validate checks that the fields required by Kind are present.
func (s ModelSource) Validate() error {
	switch s.Kind {
	case FullModel:
		if s.Path == "" {
			return errors.New("full model requires a path")
		}
	case ArchitectureAndWeights:
		if s.ArchitecturePath == "" || s.WeightsPath == "" {
			return errors.New("architecture and weights model requires both files")
		}
	case "":
		return errors.New("model kind is required")
	}
	return nil
}

// Anchor is a prior box size (width, height) in network input pixels.
type Anchor struct {
	W, H float64
}

// Prediction is a raw detector output before thresholding. X, Y, W, H describe a centre box
// normalised to the network input; Scores holds one box score per class.
type Prediction struct {
	X, Y, W, H float64
	Scores     []float32
}

// OutputLayout describes the final layer of a detection network.
type OutputLayout struct {
	// Channels of the last output tensor.
	Channels int
	// Scales is the number of output tensors.
	Scales int
}

// Backend runs the detection network. Implementations own their native resources.
type Backend interface {
	Layout() OutputLayout
	// Predict runs one forward pass over a frame already sized for the network.
	Predict(ctx context.Context, input *image.RGBA) ([]Prediction, error)
	Close() error
}

// Suppressor is implemented by backends that provide their own non-max suppression.
type Suppressor interface {
	Suppress(boxes []models.Box, scores []float32, iouThreshold float64) []int
}

// BackendParams carries what a backend needs to open a model.
type BackendParams struct {
	Source     ModelSource
	InputSize  image.Point
	Anchors    []Anchor
	NumClasses int
	Logger     *zap.SugaredLogger
}

// BackendOpener opens a backend for a registered ModelKind.
type BackendOpener func(ctx context.Context, params BackendParams) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[ModelKind]BackendOpener{}
)

// RegisterBackend makes a backend available for kind. It panics on duplicate registration.
func RegisterBackend(kind ModelKind, opener BackendOpener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[kind]; ok {
		panic(errors.Errorf("backend %q registered twice", kind))
	}
	registry[kind] = opener
}

func lookupBackend(kind ModelKind) (BackendOpener, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	opener, ok := registry[kind]
	return opener, ok
}

// RegisteredKinds lists the model kinds that can be opened, in sorted order.
func RegisteredKinds() []ModelKind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]ModelKind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Package onnx runs full YOLOv3 models exported to ONNX through onnxruntime.
//
// The graph must take one (1, 3, H, W) float input scaled to [0,1] and return the raw
// (1, anchors*(classes+5), H/stride, W/stride) head of every output scale, coarsest first.
package onnx

import (
	"context"
	"image"
	"os"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/cpu"

	"github.com/rosai/detector-node/detections"
)

func init() {
	detections.RegisterBackend(detections.FullModel, Open)
}

// InitializeEnvironment loads the onnxruntime library. It must be called once before Open.
func InitializeEnvironment(libPath string) error {
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrap(err, "onnxruntime library")
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initializing onnxruntime environment")
	}
	return nil
}

// DestroyEnvironment unloads onnxruntime. Backends must be closed first.
func DestroyEnvironment() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// modelSession holds an onnxruntime session bound to pre-allocated tensors for one input size.
type modelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	grids   []image.Point
	size    image.Point
}

func (m *modelSession) Destroy() error {
	var err error
	if m.session != nil {
		err = multierr.Append(err, m.session.Destroy())
	}
	if m.input != nil {
		err = multierr.Append(err, m.input.Destroy())
	}
	for _, out := range m.outputs {
		err = multierr.Append(err, out.Destroy())
	}
	return err
}

// Backend is a detections.Backend backed by onnxruntime.
type Backend struct {
	path        string
	inputName   string
	outputNames []string
	channels    []int64
	anchors     []detections.Anchor
	numClasses  int

	session      *modelSession
	preprocessor *detections.Preprocessor
	logger       *zap.SugaredLogger
}

// Open inspects the model at params.Source.Path and, when the input size is fixed, creates its session.
func Open(ctx context.Context, params detections.BackendParams) (detections.Backend, error) {
	path := params.Source.Path
	if _, err := os.Stat(path); err != nil {
		return nil, &detections.ModelLoadError{Path: path, Cause: err}
	}
	if !ort.IsInitialized() {
		return nil, &detections.ModelLoadError{Path: path, Cause: errors.New("onnxruntime environment is not initialized")}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, &detections.ModelLoadError{Path: path, Cause: errors.Wrap(err, "reading model inputs and outputs")}
	}
	if len(inputs) != 1 {
		return nil, &detections.ModelLoadError{Path: path, Cause: errors.Errorf("model has %d inputs, want 1", len(inputs))}
	}
	if len(outputs) == 0 {
		return nil, &detections.ModelLoadError{Path: path, Cause: errors.New("model has no outputs")}
	}

	b := &Backend{
		path:         path,
		inputName:    inputs[0].Name,
		anchors:      params.Anchors,
		numClasses:   params.NumClasses,
		preprocessor: detections.NewPreprocessor(),
		logger:       params.Logger,
	}
	for _, out := range outputs {
		if len(out.Dimensions) != 4 {
			return nil, &detections.ModelLoadError{
				Path:  path,
				Cause: errors.Errorf("output %q has shape %v, want 4 dimensions", out.Name, out.Dimensions),
			}
		}
		b.outputNames = append(b.outputNames, out.Name)
		b.channels = append(b.channels, out.Dimensions[1])
	}

	b.logger.Infow("opened onnx model",
		"path", path,
		"input", b.inputName,
		"outputs", b.outputNames,
		"avx2", cpu.X86.HasAVX2,
		"avx512", cpu.X86.HasAVX512,
		"neon", cpu.ARM64.HasASIMD,
	)

	if params.InputSize != (image.Point{}) {
		if err := b.ensureSession(params.InputSize); err != nil {
			return nil, &detections.ModelLoadError{Path: path, Cause: err}
		}
	}
	return b, nil
}

func (b *Backend) Layout() detections.OutputLayout {
	return detections.OutputLayout{
		Channels: int(b.channels[len(b.channels)-1]),
		Scales:   len(b.channels),
	}
}

// ensureSession builds a session for size, replacing one built for another size.
func (b *Backend) ensureSession(size image.Point) error {
	if b.session != nil && b.session.size == size {
		return nil
	}
	if b.session != nil {
		if err := b.session.Destroy(); err != nil {
			b.logger.Warnw("destroying stale session", "error", err)
		}
		b.session = nil
	}
	s, err := b.newSession(size)
	if err != nil {
		return err
	}
	b.session = s
	return nil
}

func (b *Backend) newSession(size image.Point) (*modelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating session options")
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, errors.Wrap(err, "setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, errors.Wrap(err, "setting inter-op threads")
	}

	m := &modelSession{size: size}
	m.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(size.Y), int64(size.X)))
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}

	outputs := make([]ort.ArbitraryTensor, len(b.channels))
	for l, channels := range b.channels {
		stride := detections.SizeMultiple >> l
		grid := image.Pt(size.X/stride, size.Y/stride)
		out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, channels, int64(grid.Y), int64(grid.X)))
		if err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "creating output tensor %d", l), m.Destroy())
		}
		m.outputs = append(m.outputs, out)
		m.grids = append(m.grids, grid)
		outputs[l] = out
	}

	m.session, err = ort.NewAdvancedSession(
		b.path,
		[]string{b.inputName},
		b.outputNames,
		[]ort.ArbitraryTensor{m.input},
		outputs,
		options,
	)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "creating session"), m.Destroy())
	}
	return m, nil
}

// Predict runs the network over input and decodes every head.
func (b *Backend) Predict(ctx context.Context, input *image.RGBA) ([]detections.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := input.Bounds().Size()
	if err := b.ensureSession(size); err != nil {
		return nil, err
	}

	b.preprocessor.Process(input, b.session.input.GetData())
	if err := b.session.session.Run(); err != nil {
		return nil, errors.Wrap(err, "model inference")
	}

	heads := make([]detections.Head, len(b.session.outputs))
	for l, out := range b.session.outputs {
		heads[l] = detections.Head{
			Data:  out.GetData(),
			GridH: b.session.grids[l].Y,
			GridW: b.session.grids[l].X,
		}
	}
	return detections.DecodeHeads(heads, b.anchors, b.numClasses, size.X, size.Y)
}

// Close destroys the session and its tensors.
func (b *Backend) Close() error {
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return err
}

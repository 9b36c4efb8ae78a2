package detections

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rosai/detector-node/models"
)

// Config describes an inference engine.
type Config struct {
	Model          ModelSource
	ClassesPath    string
	Anchors        []Anchor
	ScoreThreshold float64
	IOUThreshold   float64
	// InputSize is the network input. The zero value leaves it unspecified, in which case frames
	// are cropped down to multiples of 32.
	InputSize   image.Point
	MaxBoxes    int
	AnnotateAll bool
}

// DefaultConfig returns the engine settings the pedestrian model ships with.
func DefaultConfig(model ModelSource, classesPath string) Config {
	return Config{
		Model:          model,
		ClassesPath:    classesPath,
		Anchors:        append([]Anchor(nil), DefaultAnchors...),
		ScoreThreshold: DefaultScoreThreshold,
		IOUThreshold:   DefaultIOUThreshold,
		InputSize:      DefaultInputSize,
		MaxBoxes:       DefaultMaxBoxes,
		AnnotateAll:    true,
	}
}

// Result is the outcome of one Detect call.
type Result struct {
	Detection  models.Detection
	Candidates []models.Candidate
	// Annotated is a copy of the frame with the detections drawn on it.
	Annotated *image.RGBA
	Timings   models.ProcessingTimings
}

// Engine owns a loaded detection model. Detect is safe to call from one goroutine at a time;
// the class catalog and palette are read-only after New.
type Engine struct {
	cfg      Config
	classes  ClassCatalog
	palette  Palette
	backend  Backend
	post     *postprocessor
	annotate *annotator
	logger   *zap.SugaredLogger

	closeOnce sync.Once
	closeErr  error
}

// New loads the class catalog and model described by cfg.
func New(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := ValidateInputSize(cfg.InputSize); err != nil {
		return nil, err
	}
	if len(cfg.Anchors) == 0 {
		return nil, &ModelLoadError{Cause: errors.New("no anchors configured")}
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, &ModelLoadError{Cause: err}
	}

	classes, err := LoadClassCatalog(cfg.ClassesPath)
	if err != nil {
		return nil, err
	}

	open, ok := lookupBackend(cfg.Model.Kind)
	if !ok {
		return nil, &ModelLoadError{Cause: errors.Errorf("no backend registered for model kind %q (available: %v)", cfg.Model.Kind, RegisteredKinds())}
	}
	backend, err := open(ctx, BackendParams{
		Source:     cfg.Model,
		InputSize:  cfg.InputSize,
		Anchors:    cfg.Anchors,
		NumClasses: len(classes),
		Logger:     logger,
	})
	if err != nil {
		var loadErr *ModelLoadError
		if errors.As(err, &loadErr) {
			return nil, err
		}
		return nil, &ModelLoadError{Path: modelPath(cfg.Model), Cause: err}
	}

	layout := backend.Layout()
	if err := CheckOutputLayout(layout, len(cfg.Anchors), len(classes)); err != nil {
		closeErr := backend.Close()
		if closeErr != nil {
			logger.Warnw("closing rejected backend", "error", closeErr)
		}
		return nil, &ModelLoadError{Path: modelPath(cfg.Model), Cause: err}
	}

	suppress := NonMaxSuppression
	if s, ok := backend.(Suppressor); ok {
		suppress = s.Suppress
	}
	palette := NewPalette(len(classes))

	logger.Infow("model, anchors, and classes loaded",
		"model", modelPath(cfg.Model),
		"kind", cfg.Model.Kind,
		"anchors", len(cfg.Anchors),
		"classes", len(classes),
		"output_channels", layout.Channels,
		"outputs", layout.Scales,
	)

	return &Engine{
		cfg:     cfg,
		classes: classes,
		palette: palette,
		backend: backend,
		post: &postprocessor{
			numClasses:     len(classes),
			scoreThreshold: cfg.ScoreThreshold,
			iouThreshold:   cfg.IOUThreshold,
			maxBoxes:       cfg.MaxBoxes,
			suppress:       suppress,
		},
		annotate: &annotator{classes: classes, palette: palette},
		logger:   logger,
	}, nil
}

func modelPath(src ModelSource) string {
	if src.Kind == ArchitectureAndWeights {
		return src.WeightsPath
	}
	return src.Path
}

// Detect runs the model over frame and returns the selected detection plus an annotated copy.
// frame is never modified.
func (e *Engine) Detect(ctx context.Context, frame image.Image) (*Result, error) {
	var timings models.ProcessingTimings
	start := time.Now()

	prepStart := time.Now()
	var (
		input *image.RGBA
		err   error
	)
	if e.cfg.InputSize != (image.Point{}) {
		input = Letterbox(frame, e.cfg.InputSize)
	} else {
		input, err = CropToMultiple(frame)
		if err != nil {
			return nil, backendError(err, "resize frame")
		}
		// boxes are reported against the cropped frame
		frame = input
	}
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	preds, err := e.backend.Predict(ctx, input)
	if err != nil {
		if IsInferenceBackendError(err) {
			return nil, err
		}
		return nil, backendError(err, "model inference")
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	frameSize := frame.Bounds().Size()
	candidates := e.post.run(preds, input.Bounds().Size(), frameSize)
	for _, c := range candidates {
		if c.ClassIndex < 0 || c.ClassIndex >= len(e.classes) {
			return nil, backendError(nil, "class index %d outside catalog of %d", c.ClassIndex, len(e.classes))
		}
	}
	detection, visited := Select(candidates, e.cfg.ScoreThreshold, frameSize)
	timings.Postprocess = time.Since(postStart)

	annotateStart := time.Now()
	annotated := CloneRGBA(frame)
	if !e.cfg.AnnotateAll && len(visited) > 0 {
		visited = visited[len(visited)-1:]
	}
	e.annotate.drawAll(annotated, candidates, visited)
	timings.Annotate = time.Since(annotateStart)
	timings.Total = time.Since(start)

	e.logger.Debugw("found boxes", "count", len(candidates), "selected", detection)

	return &Result{
		Detection:  detection,
		Candidates: candidates,
		Annotated:  annotated,
		Timings:    timings,
	}, nil
}

// InputSize returns the configured network input size; zero when unspecified.
func (e *Engine) InputSize() image.Point {
	return e.cfg.InputSize
}

func (e *Engine) Classes() ClassCatalog {
	return e.classes
}

func (e *Engine) Palette() Palette {
	return e.palette
}

// Close releases the backend. Only the first call has an effect.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.backend.Close()
		e.logger.Info("inference backend released")
	})
	return e.closeErr
}

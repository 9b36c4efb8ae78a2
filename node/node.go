// Package node bridges a camera image topic to the inference engine and republishes the
// selected detection and the annotated frame.
package node

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rosai/detector-node/detections"
	"github.com/rosai/detector-node/models"
	"github.com/rosai/detector-node/transport"
)

// Detector is the inference engine as seen by the node.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) (*detections.Result, error)
	InputSize() image.Point
	Close() error
}

// State is the node lifecycle state.
type State string

const (
	Running = State("running")
	Stopped = State("stopped")
)

// Config names the node's topics.
type Config struct {
	InputTopic     string
	DetectionTopic string
	ImageTopic     string
	QueueDepth     int
}

// DefaultConfig returns the topics the camera driver and consumers use.
func DefaultConfig() Config {
	return Config{
		InputTopic:     "/camera/rgb/image_raw",
		DetectionTopic: "/yolo/point",
		ImageTopic:     "/yolo/image",
		QueueDepth:     1,
	}
}

// Stats summarises the frames seen by the node.
type Stats struct {
	FramesReceived  uint64                          `json:"frames_received"`
	FramesProcessed uint64                          `json:"frames_processed"`
	FramesSkipped   uint64                          `json:"frames_skipped"`
	LastDetection   models.Detection                `json:"last_detection"`
	LastLatency     time.Duration                   `json:"last_latency"`
	LastFrameAt     time.Time                       `json:"last_frame_at"`
	Queues          map[string]transport.QueueStats `json:"queues"`
}

// Node is the perception node. It is created Running and moves to Stopped exactly once.
type Node struct {
	cfg       Config
	detector  Detector
	transport transport.Transport
	logger    *zap.SugaredLogger

	detectionPub transport.Publisher
	imagePub     transport.Publisher

	mu            sync.RWMutex
	state         State
	stats         Stats
	lastAnnotated *image.RGBA
	lastTimings   models.ProcessingTimings
	spinDone      chan struct{}

	stopping  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New wires detector to tr. The node owns both and releases them on Close.
func New(detector Detector, tr transport.Transport, cfg Config, logger *zap.SugaredLogger) *Node {
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Node{
		cfg:       cfg,
		detector:  detector,
		transport: tr,
		logger:    logger,
		state:     Running,
		stats:     Stats{LastDetection: models.NoDetection()},
	}
}

// Start advertises the outbound topics and subscribes to the inbound one.
func (n *Node) Start() error {
	var err error
	if n.detectionPub, err = n.transport.Advertise(n.cfg.DetectionTopic, n.cfg.QueueDepth); err != nil {
		return errors.Wrapf(err, "advertising %s", n.cfg.DetectionTopic)
	}
	if n.imagePub, err = n.transport.Advertise(n.cfg.ImageTopic, n.cfg.QueueDepth); err != nil {
		return errors.Wrapf(err, "advertising %s", n.cfg.ImageTopic)
	}
	if err := n.transport.Subscribe(n.cfg.InputTopic, n.cfg.QueueDepth, n.handleFrame); err != nil {
		return errors.Wrapf(err, "subscribing to %s", n.cfg.InputTopic)
	}
	n.logger.Infow("node started",
		"input", n.cfg.InputTopic,
		"detection", n.cfg.DetectionTopic,
		"image", n.cfg.ImageTopic,
	)
	return nil
}

// Run starts the node and processes frames until ctx is cancelled or the transport fails.
// The node is stopped and its resources released on every return path.
func (n *Node) Run(ctx context.Context) (err error) {
	spinDone := make(chan struct{})
	n.mu.Lock()
	n.spinDone = spinDone
	n.mu.Unlock()
	defer func() {
		close(spinDone)
		err = multierr.Append(err, n.Close())
	}()

	if err := n.Start(); err != nil {
		if n.stopping.Load() {
			return nil
		}
		return err
	}
	if err := n.transport.Spin(ctx); err != nil {
		n.logger.Errorw("spin stopped", "error", err)
		return err
	}
	return nil
}

func (n *Node) handleFrame(ctx context.Context, payload []byte) error {
	start := time.Now()
	timings := models.ProcessingTimings{RequestID: uuid.NewString()}

	n.mu.Lock()
	n.stats.FramesReceived++
	n.mu.Unlock()

	convertStart := time.Now()
	var msg transport.ImageMessage
	if err := transport.Unmarshal(payload, &msg); err != nil {
		return err
	}
	frame, err := msg.ToRGBA()
	if err != nil {
		return err
	}
	timings.Convert = time.Since(convertStart)

	resizeStart := time.Now()
	var input image.Image = frame
	if size := n.detector.InputSize(); size != (image.Point{}) && frame.Bounds().Size() != size {
		input = imaging.Resize(frame, size.X, size.Y, imaging.Linear)
	}
	timings.Resize = time.Since(resizeStart)

	result, err := n.detector.Detect(ctx, input)
	if err != nil {
		if detections.IsInferenceBackendError(err) {
			n.mu.Lock()
			n.stats.FramesSkipped++
			n.mu.Unlock()
			n.logger.Warnw("skipping frame", "seq", msg.Header.Seq, "error", err)
			return nil
		}
		return err
	}
	timings.Preprocess = result.Timings.Preprocess
	timings.Inference = result.Timings.Inference
	timings.Postprocess = result.Timings.Postprocess
	timings.Annotate = result.Timings.Annotate

	publishStart := time.Now()
	if err := n.publish(result, msg.Encoding, msg.Header); err != nil {
		if n.stopping.Load() && errors.Is(err, transport.ErrClosed) {
			n.logger.Debugw("dropping result of frame finished during shutdown", "seq", msg.Header.Seq)
			return nil
		}
		return err
	}
	timings.Publish = time.Since(publishStart)
	timings.Total = time.Since(start)

	n.mu.Lock()
	n.stats.FramesProcessed++
	n.stats.LastDetection = result.Detection
	n.stats.LastLatency = timings.Total
	n.stats.LastFrameAt = time.Now()
	n.lastAnnotated = result.Annotated
	n.lastTimings = timings
	n.mu.Unlock()

	logTimings(n.logger, timings)
	return nil
}

func (n *Node) publish(result *detections.Result, encoding string, header transport.Header) error {
	det, err := transport.Marshal(transport.NewDetectorMessage(result.Detection))
	if err != nil {
		return err
	}
	if err := n.detectionPub.Publish(det); err != nil {
		return errors.Wrapf(err, "publishing %s", n.cfg.DetectionTopic)
	}

	imgMsg, err := transport.NewImageMessage(result.Annotated, encoding, header)
	if err != nil {
		return err
	}
	img, err := transport.Marshal(imgMsg)
	if err != nil {
		return err
	}
	return errors.Wrapf(n.imagePub.Publish(img), "publishing %s", n.cfg.ImageTopic)
}

func logTimings(logger *zap.SugaredLogger, t models.ProcessingTimings) {
	logger.Debugw("processed frame",
		"request_id", t.RequestID,
		"convert", t.Convert,
		"resize", t.Resize,
		"preprocess", t.Preprocess,
		"inference", t.Inference,
		"postprocess", t.Postprocess,
		"annotate", t.Annotate,
		"publish", t.Publish,
		"total", t.Total,
	)
}

// Close stops the node. The transport is shut down first so no new frame is delivered; a
// frame already inside the detector runs to completion, and only after Run's spin loop has
// returned is the inference backend released. Only the first call has an effect.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.stopping.Store(true)
		trErr := errors.Wrap(n.transport.Close(), "closing transport")

		n.mu.RLock()
		spinDone := n.spinDone
		n.mu.RUnlock()
		if spinDone != nil {
			<-spinDone
		}

		n.closeErr = multierr.Combine(trErr, errors.Wrap(n.detector.Close(), "releasing detector"))
		n.mu.Lock()
		n.state = Stopped
		n.mu.Unlock()
		n.logger.Info("node stopped")
	})
	return n.closeErr
}

func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) Stats() Stats {
	n.mu.RLock()
	stats := n.stats
	n.mu.RUnlock()
	stats.Queues = n.transport.Stats()
	return stats
}

// LatestAnnotated returns the most recent annotated frame, or nil before the first one.
func (n *Node) LatestAnnotated() *image.RGBA {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastAnnotated
}

// LastTimings returns the stage timings of the most recent processed frame.
func (n *Node) LastTimings() models.ProcessingTimings {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastTimings
}

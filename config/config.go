// Package config loads the detector node settings from YAML and ROSAI_* environment variables.
package config

import (
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/rosai/detector-node/detections"
	"github.com/rosai/detector-node/node"
	"github.com/rosai/detector-node/transport"
)

// EnvPrefix prefixes every environment override, e.g. ROSAI_TRANSPORT_BROKER.
const EnvPrefix = "ROSAI"

// Transport kinds.
const (
	TransportMQTT   = "mqtt"
	TransportMemory = "memory"
)

type Model struct {
	Kind         string    `mapstructure:"kind"`
	Path         string    `mapstructure:"path"`
	Architecture string    `mapstructure:"architecture"`
	Weights      string    `mapstructure:"weights"`
	Classes      string    `mapstructure:"classes"`
	Anchors      []float64 `mapstructure:"anchors"`
	InputSize    []int     `mapstructure:"input_size"`
}

type Detection struct {
	ScoreThreshold float64 `mapstructure:"score_threshold"`
	IOUThreshold   float64 `mapstructure:"iou_threshold"`
	MaxBoxes       int     `mapstructure:"max_boxes"`
	AnnotateAll    bool    `mapstructure:"annotate_all"`
}

type Transport struct {
	Kind           string        `mapstructure:"kind"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	QoS            int           `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	InputTopic     string        `mapstructure:"input_topic"`
	DetectionTopic string        `mapstructure:"detection_topic"`
	ImageTopic     string        `mapstructure:"image_topic"`
	QueueDepth     int           `mapstructure:"queue_depth"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	ResourceRoot       string    `mapstructure:"resource_root"`
	OnnxRuntimeLibrary string    `mapstructure:"onnxruntime_library"`
	Model              Model     `mapstructure:"model"`
	Detection          Detection `mapstructure:"detection"`
	Transport          Transport `mapstructure:"transport"`
	HTTP               HTTP      `mapstructure:"http"`
	Log                Log       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	nodeCfg := node.DefaultConfig()

	anchors := make([]float64, 0, 2*len(detections.DefaultAnchors))
	for _, a := range detections.DefaultAnchors {
		anchors = append(anchors, a.W, a.H)
	}

	v.SetDefault("resource_root", "")
	v.SetDefault("onnxruntime_library", "")
	v.SetDefault("model.kind", string(detections.FullModel))
	v.SetDefault("model.path", "yolo.onnx")
	v.SetDefault("model.architecture", "yolov3-tiny.cfg")
	v.SetDefault("model.weights", "yolov3-tiny.weights")
	v.SetDefault("model.classes", "coco_classes.txt")
	v.SetDefault("model.anchors", anchors)
	v.SetDefault("model.input_size", []int{detections.DefaultInputSize.X, detections.DefaultInputSize.Y})
	v.SetDefault("detection.score_threshold", detections.DefaultScoreThreshold)
	v.SetDefault("detection.iou_threshold", detections.DefaultIOUThreshold)
	v.SetDefault("detection.max_boxes", detections.DefaultMaxBoxes)
	v.SetDefault("detection.annotate_all", true)
	v.SetDefault("transport.kind", TransportMQTT)
	v.SetDefault("transport.broker", "tcp://127.0.0.1:1883")
	v.SetDefault("transport.client_id", "")
	v.SetDefault("transport.qos", 0)
	v.SetDefault("transport.connect_timeout", 10*time.Second)
	v.SetDefault("transport.publish_timeout", 5*time.Second)
	v.SetDefault("transport.input_topic", nodeCfg.InputTopic)
	v.SetDefault("transport.detection_topic", nodeCfg.DetectionTopic)
	v.SetDefault("transport.image_topic", nodeCfg.ImageTopic)
	v.SetDefault("transport.queue_depth", nodeCfg.QueueDepth)
	v.SetDefault("http.addr", "127.0.0.1:8080")
	v.SetDefault("log.level", "info")
}

// Load reads path (optional) and its sibling <name>.env.yaml override, applies ROSAI_*
// environment variables, resolves resource paths and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}

		override := viper.New()
		override.SetConfigFile(overridePath(path))
		if override.ReadInConfig() == nil {
			if err := v.MergeConfigMap(override.AllSettings()); err != nil {
				return nil, errors.Wrap(err, "merging config override")
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overridePath maps configs/main.yaml to configs/main.env.yaml.
func overridePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".env" + ext
}

func (c *Config) resolve() error {
	if c.ResourceRoot == "" {
		root, err := DefaultResourceRoot()
		if err != nil {
			return err
		}
		c.ResourceRoot = root
	}
	c.Model.Path = c.Resolve(c.Model.Path)
	c.Model.Architecture = c.Resolve(c.Model.Architecture)
	c.Model.Weights = c.Resolve(c.Model.Weights)
	c.Model.Classes = c.Resolve(c.Model.Classes)
	if c.OnnxRuntimeLibrary == "" {
		c.OnnxRuntimeLibrary = LibraryName()
	}
	c.OnnxRuntimeLibrary = c.Resolve(c.OnnxRuntimeLibrary)
	return nil
}

// Resolve returns path unchanged when absolute, otherwise joined onto the resource root.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ResourceRoot, path)
}

func configError(format string, args ...interface{}) error {
	return errors.Wrapf(detections.ErrConfiguration, format, args...)
}

// Validate checks value ranges and that every file the selected model needs exists.
func (c *Config) Validate() error {
	kind := detections.ModelKind(c.Model.Kind)
	var required []string
	switch kind {
	case detections.FullModel:
		required = []string{c.Model.Path, c.OnnxRuntimeLibrary}
	case detections.ArchitectureAndWeights:
		required = []string{c.Model.Architecture, c.Model.Weights}
	default:
		return configError("unknown model kind %q", c.Model.Kind)
	}
	required = append(required, c.Model.Classes)
	for _, path := range required {
		if _, err := os.Stat(path); err != nil {
			return &detections.ModelLoadError{Path: path, Cause: err}
		}
	}

	if len(c.Model.Anchors) == 0 || len(c.Model.Anchors)%2 != 0 {
		return configError("anchors must be a non-empty list of width,height pairs, got %d values", len(c.Model.Anchors))
	}
	if len(c.Model.InputSize) != 0 && len(c.Model.InputSize) != 2 {
		return configError("input_size must be [width, height], got %v", c.Model.InputSize)
	}
	if err := detections.ValidateInputSize(c.inputSize()); err != nil {
		return err
	}
	if c.Detection.ScoreThreshold < 0 || c.Detection.ScoreThreshold > 1 {
		return configError("score_threshold %v outside [0,1]", c.Detection.ScoreThreshold)
	}
	if c.Detection.IOUThreshold < 0 || c.Detection.IOUThreshold > 1 {
		return configError("iou_threshold %v outside [0,1]", c.Detection.IOUThreshold)
	}
	if c.Detection.MaxBoxes < 1 {
		return configError("max_boxes must be positive, got %d", c.Detection.MaxBoxes)
	}

	switch c.Transport.Kind {
	case TransportMQTT:
		if c.Transport.Broker == "" {
			return configError("transport.broker is required for mqtt")
		}
		if c.Transport.QoS < 0 || c.Transport.QoS > 2 {
			return configError("transport.qos %d outside 0..2", c.Transport.QoS)
		}
	case TransportMemory:
	default:
		return configError("unknown transport kind %q", c.Transport.Kind)
	}
	if c.Transport.InputTopic == "" || c.Transport.DetectionTopic == "" || c.Transport.ImageTopic == "" {
		return configError("transport topics must be set")
	}
	if c.Transport.QueueDepth < 1 {
		return configError("transport.queue_depth must be at least 1, got %d", c.Transport.QueueDepth)
	}
	return nil
}

func (c *Config) inputSize() image.Point {
	if len(c.Model.InputSize) != 2 {
		return image.Point{}
	}
	return image.Pt(c.Model.InputSize[0], c.Model.InputSize[1])
}

// EngineConfig converts the model and detection sections into an engine config.
func (c *Config) EngineConfig() detections.Config {
	anchors := make([]detections.Anchor, 0, len(c.Model.Anchors)/2)
	for i := 0; i+1 < len(c.Model.Anchors); i += 2 {
		anchors = append(anchors, detections.Anchor{W: c.Model.Anchors[i], H: c.Model.Anchors[i+1]})
	}
	return detections.Config{
		Model: detections.ModelSource{
			Kind:             detections.ModelKind(c.Model.Kind),
			Path:             c.Model.Path,
			ArchitecturePath: c.Model.Architecture,
			WeightsPath:      c.Model.Weights,
		},
		ClassesPath:    c.Model.Classes,
		Anchors:        anchors,
		ScoreThreshold: c.Detection.ScoreThreshold,
		IOUThreshold:   c.Detection.IOUThreshold,
		InputSize:      c.inputSize(),
		MaxBoxes:       c.Detection.MaxBoxes,
		AnnotateAll:    c.Detection.AnnotateAll,
	}
}

func (c *Config) NodeConfig() node.Config {
	return node.Config{
		InputTopic:     c.Transport.InputTopic,
		DetectionTopic: c.Transport.DetectionTopic,
		ImageTopic:     c.Transport.ImageTopic,
		QueueDepth:     c.Transport.QueueDepth,
	}
}

func (c *Config) MQTTConfig() transport.MQTTConfig {
	return transport.MQTTConfig{
		Broker:         c.Transport.Broker,
		ClientID:       c.Transport.ClientID,
		QoS:            byte(c.Transport.QoS),
		ConnectTimeout: c.Transport.ConnectTimeout,
		PublishTimeout: c.Transport.PublishTimeout,
	}
}

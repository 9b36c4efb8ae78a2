package detections

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
)

// ErrConfiguration is matched by every error that must stop the process before it subscribes.
var ErrConfiguration = errors.New("configuration error")

// ModelLoadError is returned when the model, its class catalog or its output layout cannot be used.
type ModelLoadError struct {
	Path  string
	Cause error
}

func (e *ModelLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("model load: %v", e.Cause)
	}
	return fmt.Sprintf("model load %s: %v", e.Path, e.Cause)
}

func (e *ModelLoadError) Unwrap() error { return e.Cause }

// Is makes model load failures match ErrConfiguration.
func (e *ModelLoadError) Is(target error) bool { return target == ErrConfiguration }

// InvalidInputSizeError is returned when a configured input dimension is not a multiple of 32.
type InvalidInputSizeError struct {
	Size image.Point
}

func (e *InvalidInputSizeError) Error() string {
	return fmt.Sprintf("invalid input size %dx%d: multiples of %d required", e.Size.X, e.Size.Y, SizeMultiple)
}

func (e *InvalidInputSizeError) Is(target error) bool { return target == ErrConfiguration }

// InferenceBackendError wraps a per-frame failure of the inference backend. It is never retried.
type InferenceBackendError struct {
	Message string
	Cause   error
}

func (e *InferenceBackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InferenceBackendError) Unwrap() error { return e.Cause }

func backendError(cause error, format string, args ...interface{}) error {
	return &InferenceBackendError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsInferenceBackendError reports whether err is, or wraps, an InferenceBackendError.
func IsInferenceBackendError(err error) bool {
	var target *InferenceBackendError
	return errors.As(err, &target)
}

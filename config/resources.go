package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// ResourceDir is the directory next to the executable holding models, class lists and the
// onnxruntime library.
const ResourceDir = "resources"

// DefaultResourceRoot returns the resources directory next to the running executable.
func DefaultResourceRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", errors.Wrap(err, "locating executable")
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", errors.Wrap(err, "resolving executable path")
	}
	return filepath.Join(filepath.Dir(exe), ResourceDir), nil
}

// LibraryName is the onnxruntime shared library file name for the running OS.
func LibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

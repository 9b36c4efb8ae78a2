package darknet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.viam.com/test"

	"github.com/rosai/detector-node/detections"
)

func TestOpenRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tiny.cfg")
	test.That(t, os.WriteFile(cfgPath, []byte("[convolutional]\nfilters=21\n[yolo]\n"), 0o600), test.ShouldBeNil)
	noYolo := filepath.Join(dir, "plain.cfg")
	test.That(t, os.WriteFile(noYolo, []byte("[net]\nwidth=416\n"), 0o600), test.ShouldBeNil)

	open := func(arch, weights string) error {
		_, err := Open(context.Background(), detections.BackendParams{
			Source: detections.ModelSource{
				Kind:             detections.ArchitectureAndWeights,
				ArchitecturePath: arch,
				WeightsPath:      weights,
			},
			Anchors:    detections.DefaultAnchors,
			NumClasses: 2,
			Logger:     zap.NewNop().Sugar(),
		})
		return err
	}

	for _, tc := range []struct {
		arch, weights, path string
	}{
		{filepath.Join(dir, "missing.cfg"), filepath.Join(dir, "w"), filepath.Join(dir, "missing.cfg")},
		{noYolo, filepath.Join(dir, "w"), noYolo},
		{cfgPath, filepath.Join(dir, "missing.weights"), filepath.Join(dir, "missing.weights")},
	} {
		err := open(tc.arch, tc.weights)
		var loadErr *detections.ModelLoadError
		test.That(t, errors.As(err, &loadErr), test.ShouldBeTrue)
		test.That(t, loadErr.Path, test.ShouldEqual, tc.path)
	}
}

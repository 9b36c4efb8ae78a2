package detections

import (
	"strings"
	"testing"

	"go.viam.com/test"
)

const tinyCfg = `[net]
# Testing
batch=1
width=416
height=416

[convolutional]
batch_normalize=1
filters=256
size=3

[convolutional]
size=1
stride=1
filters=21 ; 3*(2+5)
activation=linear

[yolo]
mask = 3,4,5
anchors = 10,14,  23,27,  37,58,  81,82,  135,169,  344,319
classes=2

[route]
layers = -4

[convolutional]
filters=21
activation=linear

[YOLO]
mask = 1,2,3
classes=2
`

func TestParseDarknetLayout(t *testing.T) {
	layout, err := ParseDarknetLayout(strings.NewReader(tinyCfg))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, layout, test.ShouldResemble, OutputLayout{Channels: 21, Scales: 2})
	test.That(t, CheckOutputLayout(layout, len(DefaultAnchors), 2), test.ShouldBeNil)

	_, err = ParseDarknetLayout(strings.NewReader("[net]\nwidth=416\n"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ParseDarknetLayout(strings.NewReader("[convolutional]\nfilters=many\n[yolo]\n"))
	test.That(t, err, test.ShouldNotBeNil)
}

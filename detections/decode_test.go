package detections

import (
	"math"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestCheckOutputLayout(t *testing.T) {
	test.That(t, CheckOutputLayout(OutputLayout{Channels: 255, Scales: 2}, 6, 80), test.ShouldBeNil)
	test.That(t, CheckOutputLayout(OutputLayout{Channels: 18, Scales: 2}, 6, 1), test.ShouldBeNil)
	test.That(t, CheckOutputLayout(OutputLayout{Channels: 255, Scales: 3}, 9, 80), test.ShouldBeNil)

	err := CheckOutputLayout(OutputLayout{Channels: 255, Scales: 2}, 6, 2)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "needs 21")

	test.That(t, CheckOutputLayout(OutputLayout{Channels: 255, Scales: 4}, 6, 80), test.ShouldNotBeNil)
	test.That(t, CheckOutputLayout(OutputLayout{}, 6, 80), test.ShouldNotBeNil)
}

func TestAnchorMasks(t *testing.T) {
	test.That(t, AnchorMasks(9, 3), test.ShouldResemble, [][]int{{6, 7, 8}, {3, 4, 5}, {0, 1, 2}})
	test.That(t, AnchorMasks(6, 2), test.ShouldResemble, [][]int{{3, 4, 5}, {1, 2, 3}})
	test.That(t, AnchorMasks(4, 2), test.ShouldResemble, [][]int{{2, 3}, {0, 1}})
	test.That(t, AnchorMasks(3, 1), test.ShouldResemble, [][]int{{0, 1, 2}})
}

func TestDecodeHeads(t *testing.T) {
	anchors := []Anchor{{10, 14}, {23, 27}, {37, 58}}
	const numClasses = 1
	attrs := numClasses + 5

	t.Run("zero logits", func(t *testing.T) {
		head := Head{Data: make([]float32, 3*attrs), GridH: 1, GridW: 1}
		preds, err := DecodeHeads([]Head{head}, anchors, numClasses, 32, 32)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, preds, test.ShouldHaveLength, 3)
		for i, p := range preds {
			test.That(t, p.X, test.ShouldAlmostEqual, 0.5)
			test.That(t, p.Y, test.ShouldAlmostEqual, 0.5)
			test.That(t, p.W, test.ShouldAlmostEqual, anchors[i].W/32)
			test.That(t, p.H, test.ShouldAlmostEqual, anchors[i].H/32)
			test.That(t, p.Scores, test.ShouldResemble, []float32{0.25})
		}
	})

	t.Run("channel major layout", func(t *testing.T) {
		// 2x2 grid: the value for anchor a, attribute k, cell c sits at a*attrs*4 + k*4 + c
		head := Head{Data: make([]float32, 3*attrs*4), GridH: 2, GridW: 2}
		const anchor, cell = 1, 3
		head.Data[anchor*attrs*4+0*4+cell] = 20
		head.Data[anchor*attrs*4+2*4+cell] = float32(math.Log(2))
		head.Data[anchor*attrs*4+4*4+cell] = 20
		head.Data[anchor*attrs*4+5*4+cell] = 20

		preds, err := DecodeHeads([]Head{head}, anchors, numClasses, 64, 64)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, preds, test.ShouldHaveLength, 12)

		p := preds[anchor*4+cell]
		test.That(t, p.X, test.ShouldAlmostEqual, 1.0, 1e-6)
		test.That(t, p.Y, test.ShouldAlmostEqual, 0.75)
		test.That(t, p.W, test.ShouldAlmostEqual, 2*anchors[anchor].W/64, 1e-6)
		test.That(t, float64(p.Scores[0]), test.ShouldAlmostEqual, 1.0, 1e-6)
		test.That(t, preds[0].Scores[0], test.ShouldEqual, float32(0.25))
	})

	t.Run("wrong size", func(t *testing.T) {
		head := Head{Data: make([]float32, 10), GridH: 1, GridW: 1}
		_, err := DecodeHeads([]Head{head}, anchors, numClasses, 32, 32)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, strings.Contains(err.Error(), "want 18"), test.ShouldBeTrue)
	})
}

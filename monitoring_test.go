package main

import (
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/rosai/detector-node/detections"
	"github.com/rosai/detector-node/models"
	"github.com/rosai/detector-node/node"
	"github.com/rosai/detector-node/transport"
)

type stubDetector struct{}

func (stubDetector) Detect(_ context.Context, frame image.Image) (*detections.Result, error) {
	return &detections.Result{
		Detection: models.Detection{ClassIndex: 1, Left: 2, Top: 3, Right: 40, Bottom: 50},
		Annotated: detections.CloneRGBA(frame),
	}, nil
}

func (stubDetector) InputSize() image.Point { return image.Point{} }

func (stubDetector) Close() error { return nil }

func serve(r *mux.Router, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMonitoringRoutes(t *testing.T) {
	bus := transport.NewMemoryBus()
	cfg := node.DefaultConfig()
	n := node.New(stubDetector{}, bus, cfg, zaptest.NewLogger(t).Sugar())
	m := &monitor{node: n, classes: detections.ClassCatalog{"person", "car"}}
	r := mux.NewRouter()
	m.addMonitoringRoutes(r)

	rec := serve(r, "/detection")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNotFound)
	var errResp ErrorResponse
	test.That(t, json.NewDecoder(rec.Body).Decode(&errResp), test.ShouldBeNil)
	test.That(t, errResp.Code, test.ShouldEqual, "no_frame")
	test.That(t, serve(r, "/image.jpg").Code, test.ShouldEqual, http.StatusNotFound)

	done := make(chan error, 1)
	go func() {
		done <- n.Run(context.Background())
	}()
	for {
		if _, ok := bus.Stats()[cfg.InputTopic]; ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	msg, err := transport.NewImageMessage(img, transport.EncodingRGB8, transport.Header{Seq: 1})
	test.That(t, err, test.ShouldBeNil)
	payload, err := transport.Marshal(msg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus.Publish(cfg.InputTopic, payload), test.ShouldBeNil)

	deadline := time.Now().Add(5 * time.Second)
	for n.Stats().FramesProcessed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("frame not processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = serve(r, "/healthz")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var health HealthResponse
	test.That(t, json.NewDecoder(rec.Body).Decode(&health), test.ShouldBeNil)
	test.That(t, health.State, test.ShouldEqual, node.Running)

	rec = serve(r, "/detection")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var det DetectionResponse
	test.That(t, json.NewDecoder(rec.Body).Decode(&det), test.ShouldBeNil)
	test.That(t, det.Class, test.ShouldEqual, "car")
	test.That(t, det.Detection, test.ShouldResemble, models.Detection{ClassIndex: 1, Left: 2, Top: 3, Right: 40, Bottom: 50})

	rec = serve(r, "/image.jpg")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Content-Type"), test.ShouldEqual, "image/jpeg")
	decoded, err := jpeg.Decode(rec.Body)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded.Bounds().Size(), test.ShouldResemble, image.Pt(64, 32))

	rec = serve(r, "/metrics")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var metrics map[string]interface{}
	test.That(t, json.NewDecoder(rec.Body).Decode(&metrics), test.ShouldBeNil)
	test.That(t, metrics["frames_processed"], test.ShouldEqual, 1.0)
	test.That(t, metrics["state"], test.ShouldEqual, "running")

	test.That(t, n.Close(), test.ShouldBeNil)
	test.That(t, <-done, test.ShouldBeNil)

	rec = serve(r, "/healthz")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusServiceUnavailable)
}

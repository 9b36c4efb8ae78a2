package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"

	"github.com/rosai/detector-node/detections"
	"github.com/rosai/detector-node/models"
	"github.com/rosai/detector-node/node"
)

type monitor struct {
	node    *node.Node
	classes detections.ClassCatalog
}

type HealthResponse struct {
	State   node.State `json:"state"`
	Message string     `json:"message"`
}

type DetectionResponse struct {
	Detection models.Detection `json:"detection"`
	Class     string           `json:"class,omitempty"`
	Message   string           `json:"message,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (m *monitor) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", m.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", m.handleHealth).Methods("GET")
	r.HandleFunc("/detection", m.handleDetection).Methods("GET")
	r.HandleFunc("/image.jpg", m.handleImage).Methods("GET")
}

func (m *monitor) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	stats := m.node.Stats()
	timings := m.node.LastTimings()
	response := map[string]interface{}{
		"state":            m.node.State(),
		"frames_received":  stats.FramesReceived,
		"frames_processed": stats.FramesProcessed,
		"frames_skipped":   stats.FramesSkipped,
		"last_latency_ms":  durationMillis(stats.LastLatency),
		"last_frame_at":    stats.LastFrameAt,
		"queues":           stats.Queues,
		"last_timings_ms": map[string]float64{
			"convert":     durationMillis(timings.Convert),
			"resize":      durationMillis(timings.Resize),
			"preprocess":  durationMillis(timings.Preprocess),
			"inference":   durationMillis(timings.Inference),
			"postprocess": durationMillis(timings.Postprocess),
			"annotate":    durationMillis(timings.Annotate),
			"publish":     durationMillis(timings.Publish),
			"total":       durationMillis(timings.Total),
		},
	}
	sendJSON(w, http.StatusOK, response)
}

func (m *monitor) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if m.node.State() != node.Running {
		sendJSON(w, http.StatusServiceUnavailable, HealthResponse{State: node.Stopped, Message: MsgStopped})
		return
	}
	sendJSON(w, http.StatusOK, HealthResponse{State: node.Running, Message: MsgRunning})
}

func (m *monitor) handleDetection(w http.ResponseWriter, _ *http.Request) {
	stats := m.node.Stats()
	if stats.FramesProcessed == 0 {
		sendErrorResponse(w, "no_frame", MsgNoFrame, http.StatusNotFound)
		return
	}
	response := DetectionResponse{Detection: stats.LastDetection}
	if stats.LastDetection.Found() {
		response.Class = m.classes.Name(int(stats.LastDetection.ClassIndex))
	} else {
		response.Message = MsgNoDetection
	}
	sendJSON(w, http.StatusOK, response)
}

func (m *monitor) handleImage(w http.ResponseWriter, _ *http.Request) {
	img := m.node.LatestAnnotated()
	if img == nil {
		sendErrorResponse(w, "no_frame", MsgNoFrame, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		sendErrorResponse(w, "encode_error", "Failed to encode image", http.StatusInternalServerError)
	}
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

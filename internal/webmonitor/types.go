package webmonitor

import (
	"time"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/alert"
)

// BoundingBox is a detection box in frame pixels.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one drawn detection of the latest frame.
type Detection struct {
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	Tracked    bool        `json:"tracked"`
	BBox       BoundingBox `json:"bbox"`
}

// Snapshot is the outcome of the most recently processed frame. Only the
// latest one is kept.
type Snapshot struct {
	FrameNumber uint64           `json:"frame_number"`
	Timestamp   time.Time        `json:"timestamp"`
	Source      string           `json:"source"`
	Width       int              `json:"width"`
	Height      int              `json:"height"`
	Counts      map[string]int   `json:"counts"`
	Indicators  alert.Indicators `json:"indicators"`
	Detections  []Detection      `json:"detections"`
}

// MonitorStats summarizes the loop since startup.
type MonitorStats struct {
	FramesProcessed uint64  `json:"frames_processed"`
	CurrentFPS      float64 `json:"current_fps"`
	DetectionCount  int     `json:"detection_count"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	StreamClients   int     `json:"stream_clients"`
	EventClients    int     `json:"event_clients"`
}

// IndicatorEvent is the SSE payload for one indicator transition.
type IndicatorEvent struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	FrameNumber uint64         `json:"frame_number"`
	Timestamp   float64        `json:"timestamp"`
	Indicator   string         `json:"indicator"`
	On          bool           `json:"on"`
	Counts      map[string]int `json:"counts"`
}

// Package inference runs object detection on frames.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/detect"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/pkg/types"
)

var log = logger.For("Inference")

// Detector produces raw detections for a frame.
type Detector interface {
	Detect(ctx context.Context, frame *types.Frame) ([]detect.Detection, error)
	Close() error
}

// Response is the detector server's reply to one frame. Boxes are
// [x_min, y_min, x_max, y_max] as fractions of the frame size.
type Response struct {
	Detections []struct {
		ClassID    int       `json:"class_id"`
		Confidence float64   `json:"confidence"`
		Box        []float64 `json:"box"`
	} `json:"detections"`
}

// Decode converts a response payload into detections.
func Decode(payload []byte) ([]detect.Detection, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]detect.Detection, 0, len(resp.Detections))
	for i, d := range resp.Detections {
		if len(d.Box) != 4 {
			return nil, fmt.Errorf("detection %d: box has %d values, want 4", i, len(d.Box))
		}
		out = append(out, detect.Detection{
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			Box:        detect.Box{XMin: d.Box[0], YMin: d.Box[1], XMax: d.Box[2], YMax: d.Box[3]},
		})
	}
	return out, nil
}

// RemoteDetector sends each frame as a JPEG binary message over a websocket
// and waits for the JSON reply. A failed exchange drops the connection; the
// next call dials again.
type RemoteDetector struct {
	url     string
	timeout time.Duration
	quality int
	dialer  *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRemoteDetector creates a detector for the websocket URL. Nothing is
// dialed until the first frame.
func NewRemoteDetector(url string, timeout time.Duration, quality int) *RemoteDetector {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &RemoteDetector{
		url:     url,
		timeout: timeout,
		quality: quality,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

func (d *RemoteDetector) connect(ctx context.Context) (*websocket.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}

	log.Info("Connecting to detector server %s", d.url)
	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	log.Info("Connected to detector server")
	d.conn = conn
	return conn, nil
}

func (d *RemoteDetector) drop(err error) {
	if d.conn != nil {
		log.Warn("Connection lost: %v", err)
		d.conn.Close()
		d.conn = nil
	}
}

// Detect runs one request/response exchange within the configured timeout.
func (d *RemoteDetector) Detect(ctx context.Context, frame *types.Frame) ([]detect.Detection, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, fmt.Errorf("JPEG encode error: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	conn, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		d.drop(err)
		return nil, fmt.Errorf("send frame %d: %w", frame.FrameNum, err)
	}

	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		d.drop(err)
		return nil, fmt.Errorf("receive result for frame %d: %w", frame.FrameNum, err)
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected message type %d", msgType)
	}

	return Decode(payload)
}

// Close closes the connection, if any.
func (d *RemoteDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	d.conn.Close()
	d.conn = nil
	return err
}

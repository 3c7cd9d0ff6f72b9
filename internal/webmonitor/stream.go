package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"
)

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

var (
	blankOnce sync.Once
	blank     []byte
	blankErr  error
)

// blankJPEG is a color-bar test pattern shown while no frames arrive.
func blankJPEG() ([]byte, error) {
	blankOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 640, 480))

		// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
		colors := []color.RGBA{
			{R: 255, G: 255, B: 255, A: 255}, // White
			{R: 255, G: 255, B: 0, A: 255},   // Yellow
			{R: 0, G: 255, B: 255, A: 255},   // Cyan
			{R: 0, G: 255, B: 0, A: 255},     // Green
			{R: 255, G: 0, B: 255, A: 255},   // Magenta
			{R: 255, G: 0, B: 0, A: 255},     // Red
			{R: 0, G: 0, B: 255, A: 255},     // Blue
			{R: 0, G: 0, B: 0, A: 255},       // Black
		}

		barWidth := 640 / len(colors)
		for y := range 480 {
			for x := range 640 {
				barIndex := min(x/barWidth, len(colors)-1)
				img.SetRGBA(x, y, colors[barIndex])
			}
		}

		var buf bytes.Buffer
		blankErr = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75})
		blank = buf.Bytes()
	})
	return blank, blankErr
}

func writeMJPEGPart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// streamMJPEGFromChannel streams MJPEG from a channel (fanout pattern).
// first, when non-nil, is sent before waiting on the channel.
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte, first []byte, idle time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	blankData, err := blankJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	if first != nil {
		if err := writeMJPEGPart(w, first); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		var jpegData []byte
		select {
		case data, ok := <-frameCh:
			if !ok {
				// Channel closed, client should disconnect
				return
			}
			jpegData = data
		case <-time.After(idle):
			// No frame for a while, send blank to keep connection alive
			jpegData = blankData
		case <-ctx.Done():
			return
		}

		if err := writeMJPEGPart(w, jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		flusher.Flush()
	}
}

// streamEventsFromChannel streams pre-serialized events to an SSE client.
func streamEventsFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, useProtobuf bool, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Add custom header to indicate format
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	flusher.Flush()

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				// Channel closed, client should disconnect
				return
			}

			// Use pre-serialized data (no conversion needed)
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}

			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-time.After(keepAlive):
			// Send keepalive comment to prevent timeout
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}

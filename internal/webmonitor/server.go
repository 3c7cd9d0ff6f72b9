// Package webmonitor serves the annotated stream and the latest indicator
// state over HTTP.
package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"
)

var log = logger.For("Monitor")

// Server serves the web monitor endpoints.
type Server struct {
	cfg     Config
	monitor *Monitor
	frames  *FrameBroadcaster
	events  *EventBroadcaster
	metrics http.Handler

	httpServer *http.Server
}

// NewServer returns a configured monitor server. metrics may be nil.
func NewServer(cfg Config, monitor *Monitor, frames *FrameBroadcaster, events *EventBroadcaster, metrics http.Handler) *Server {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}

	return &Server{
		cfg:     cfg,
		monitor: monitor,
		frames:  frames,
		events:  events,
		metrics: metrics,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/indicators/stream", s.handleIndicatorsStream)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	return mux
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.httpServer = &http.Server{Handler: s.Handler()}

	log.Info("Web monitor listening on %s", ln.Addr())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Shutdown disconnects streaming clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.frames.Close()
	s.events.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	first, _ := s.frames.Latest()
	streamMJPEGFromChannel(r.Context(), w, frameCh, first, s.cfg.IdleTimeout)
}

func (s *Server) statusPayload() map[string]any {
	stats, latest := s.monitor.Snapshot()
	stats.StreamClients = s.frames.Clients()
	stats.EventClients = s.events.Clients()
	return map[string]any{
		"monitor":   stats,
		"latest":    latest,
		"timestamp": float64(time.Now().Unix()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleIndicatorsStream(w http.ResponseWriter, r *http.Request) {
	// Subscribe to indicator transitions
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(r.Context(), w, eventCh, useProtobuf, s.cfg.KeepAlive)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, latest := s.monitor.Snapshot()
	payload := map[string]any{
		"status":           "ok",
		"uptime_seconds":   stats.UptimeSeconds,
		"frames_processed": stats.FramesProcessed,
	}
	if latest != nil {
		payload["last_frame_age_seconds"] = time.Since(latest.Timestamp).Seconds()
	}
	writeJSON(w, payload)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

package webmonitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/events"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"
)

// hub fans values out to subscribers. A slow subscriber misses values
// instead of blocking the sender.
type hub[T any] struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
}

func newHub[T any](name string) *hub[T] {
	return &hub[T]{name: name, clients: make(map[int]chan T)}
}

// Subscribe adds a new client and returns its channel.
func (h *hub[T]) Subscribe() (int, <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan T, 2) // Buffer 2 values to avoid blocking
	if h.closed {
		close(ch)
		return id, ch
	}
	h.clients[id] = ch

	logger.Debug(h.name, "Client #%d subscribed (total clients: %d)", id, len(h.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (h *hub[T]) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
		logger.Debug(h.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(h.clients))
	}
}

// Clients returns the number of subscribers.
func (h *hub[T]) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub[T]) broadcast(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients {
		select {
		case ch <- v:
		default:
			// Client too slow, skip this value for this client
		}
	}
}

// Close disconnects every subscriber.
func (h *hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}

// FrameBroadcaster fans annotated JPEG frames out to MJPEG clients and keeps
// the latest one for newcomers.
type FrameBroadcaster struct {
	*hub[[]byte]

	latestMu sync.RWMutex
	latest   []byte
}

// NewFrameBroadcaster creates an empty broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{hub: newHub[[]byte]("FrameBroadcaster")}
}

// Publish hands a rendered frame to every client.
func (fb *FrameBroadcaster) Publish(jpeg []byte) {
	fb.latestMu.Lock()
	fb.latest = jpeg
	fb.latestMu.Unlock()

	fb.broadcast(jpeg)
}

// Latest returns the most recent frame, if any.
func (fb *FrameBroadcaster) Latest() ([]byte, bool) {
	fb.latestMu.RLock()
	defer fb.latestMu.RUnlock()
	return fb.latest, fb.latest != nil
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// EventBroadcaster fans indicator transitions out to SSE clients. It is an
// events.Publisher, so the frame loop treats it like any other sink.
type EventBroadcaster struct {
	*hub[*SerializedEvent]
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{hub: newHub[*SerializedEvent]("EventBroadcaster")}
}

// Publish pre-serializes ev to both formats and broadcasts it.
func (eb *EventBroadcaster) Publish(_ context.Context, ev events.Event) error {
	if eb.Clients() == 0 {
		return nil
	}
	serialized, err := serializeEvent(toIndicatorEvent(ev))
	if err != nil {
		logger.Error("EventBroadcaster", "Serialize error: %v", err)
		return err
	}
	eb.broadcast(serialized)
	return nil
}

// Close disconnects every SSE client.
func (eb *EventBroadcaster) Close() error {
	eb.hub.Close()
	return nil
}

func toIndicatorEvent(ev events.Event) IndicatorEvent {
	return IndicatorEvent{
		ID:          ev.ID,
		RunID:       ev.RunID,
		FrameNumber: ev.FrameNum,
		Timestamp:   float64(ev.Timestamp.UnixNano()) / 1e9,
		Indicator:   ev.Indicator,
		On:          ev.On,
		Counts:      ev.Counts,
	}
}

func serializeEvent(ev IndicatorEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("JSON marshal error: %w", err)
	}

	pbData, err := proto.Marshal(indicatorEventToProto(ev))
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal error: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// indicatorEventToProto builds the protobuf form as a google.protobuf.Struct
// with the same field names as the JSON form.
func indicatorEventToProto(ev IndicatorEvent) *structpb.Struct {
	counts := make(map[string]*structpb.Value, len(ev.Counts))
	for class, n := range ev.Counts {
		counts[class] = structpb.NewNumberValue(float64(n))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":           structpb.NewStringValue(ev.ID),
		"run_id":       structpb.NewStringValue(ev.RunID),
		"frame_number": structpb.NewNumberValue(float64(ev.FrameNumber)),
		"timestamp":    structpb.NewNumberValue(ev.Timestamp),
		"indicator":    structpb.NewStringValue(ev.Indicator),
		"on":           structpb.NewBoolValue(ev.On),
		"counts":       structpb.NewStructValue(&structpb.Struct{Fields: counts}),
	}}
}

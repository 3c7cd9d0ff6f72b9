// Package events publishes indicator transitions to external consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/alert"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"
)

var log = logger.For("Events")

// Event is one indicator transition.
type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Indicator string         `json:"indicator"`
	Kind      alert.Kind     `json:"kind"`
	Class     string         `json:"class,omitempty"`
	On        bool           `json:"on"`
	Counts    map[string]int `json:"counts"`
	FrameNum  uint64         `json:"frame_num"`
	Timestamp time.Time      `json:"timestamp"`
}

// JSON encodes the event.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewRunID identifies one process lifetime in every event it emits.
func NewRunID() string {
	return uuid.NewString()
}

// FromChanges builds one event per change, in order.
func FromChanges(runID string, changes []alert.Change, counts map[string]int, frameNum uint64, ts time.Time) []Event {
	if len(changes) == 0 {
		return nil
	}

	snapshot := make(map[string]int, len(counts))
	for k, v := range counts {
		snapshot[k] = v
	}

	out := make([]Event, 0, len(changes))
	for _, c := range changes {
		out = append(out, Event{
			ID:        uuid.NewString(),
			RunID:     runID,
			Indicator: c.Name(),
			Kind:      c.Kind,
			Class:     c.Class,
			On:        c.On,
			Counts:    snapshot,
			FrameNum:  frameNum,
			Timestamp: ts,
		})
	}
	return out
}

// Publisher delivers events. Publish must not block the frame loop for
// longer than its own timeout.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Fanout delivers every event to each publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

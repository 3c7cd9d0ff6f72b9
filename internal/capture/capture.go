// Package capture provides the frame sources feeding the detection loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/config"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/pkg/types"
)

var log = logger.For("Capture")

// ErrCaptureGap means no frame was available this iteration. The caller
// should skip the iteration and keep all state unchanged.
var ErrCaptureGap = errors.New("capture gap: no frame available")

// Source yields frames one at a time. Read returns ErrCaptureGap when no
// frame arrived in time and io.EOF once the stream has ended.
type Source interface {
	Read(ctx context.Context) (*types.Frame, error)
	Close() error
}

// New opens the source selected by cfg.Kind.
func New(ctx context.Context, cfg config.CaptureConfig) (Source, error) {
	gap := cfg.GapTimeout
	if gap <= 0 {
		gap = time.Second
	}

	switch cfg.Kind {
	case "ffmpeg":
		src, err := NewFFmpegSource(ctx, FFmpegOptions{
			URL:        cfg.URL,
			Device:     cfg.Device,
			Width:      cfg.Width,
			Height:     cfg.Height,
			FPS:        cfg.FPS,
			GapTimeout: gap,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case "dir":
		src, err := NewDirSource(cfg.Dir, gap)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "shm":
		return NewShmSource(cfg.ShmName, cfg.FPS, gap)
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Kind)
	}
}

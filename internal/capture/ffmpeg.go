package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/pkg/types"
)

// FFmpegOptions configures an ffmpeg-backed source.
type FFmpegOptions struct {
	URL        string // any ffmpeg input; takes precedence over Device
	Device     string // V4L2 device
	Width      int
	Height     int
	FPS        int
	GapTimeout time.Duration
}

func (o FFmpegOptions) args() []string {
	var args []string
	switch {
	case strings.HasPrefix(o.URL, "rtsp://"):
		args = append(args, "-rtsp_transport", "tcp", "-i", o.URL)
	case o.URL != "":
		args = append(args, "-re", "-i", o.URL)
	default:
		args = append(args, "-f", "v4l2", "-i", o.Device)
	}
	return append(args,
		"-loglevel", "error",
		"-an",
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", o.FPS, o.Width, o.Height),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	)
}

// RawSource decodes a stream of fixed-size raw RGBA frames.
type RawSource struct {
	name   string
	width  int
	height int
	gap    time.Duration

	frames chan *types.Frame
	stop   chan struct{}

	mu  sync.Mutex
	err error // terminal read error; nil means clean end

	closeOnce sync.Once
	closeFn   func() error
}

// NewRawSource reads frames of width*height*4 bytes from r until it ends.
// A trailing partial frame ends the stream.
func NewRawSource(r io.Reader, name string, width, height int, gap time.Duration) *RawSource {
	s := &RawSource{
		name:   name,
		width:  width,
		height: height,
		gap:    gap,
		frames: make(chan *types.Frame),
		stop:   make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

// NewFFmpegSource spawns ffmpeg and reads its raw RGBA output.
func NewFFmpegSource(ctx context.Context, opts FFmpegOptions) (*RawSource, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", opts.args()...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w. Details: %s", err, stderr.String())
	}

	input := opts.URL
	if input == "" {
		input = opts.Device
	}
	log.Info("ffmpeg capturing %s at %dx%d@%dfps", input, opts.Width, opts.Height, opts.FPS)

	s := NewRawSource(stdout, "ffmpeg:"+input, opts.Width, opts.Height, opts.GapTimeout)
	s.closeFn = func() error {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		cmd.Wait()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			log.Debug("ffmpeg stderr: %s", msg)
		}
		return nil
	}
	return s, nil
}

func (s *RawSource) readLoop(r io.Reader) {
	defer close(s.frames)

	frameSize := s.width * s.height * 4
	var num uint64
	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, io.ErrUnexpectedEOF):
				log.Warn("%s: stream ended mid-frame", s.name)
			default:
				select {
				case <-s.stop:
				default:
					s.mu.Lock()
					s.err = fmt.Errorf("read error: %w", err)
					s.mu.Unlock()
				}
			}
			return
		}

		num++
		frame := types.NewRGBAFrame(buf, s.width, s.height, num, time.Now())
		frame.Source = s.name

		select {
		case s.frames <- frame:
		case <-s.stop:
			return
		}
	}
}

// Read returns the next frame.
func (s *RawSource) Read(ctx context.Context) (*types.Frame, error) {
	timer := time.NewTimer(s.gap)
	defer timer.Stop()

	select {
	case frame, ok := <-s.frames:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}
		return frame, nil
	case <-timer.C:
		return nil, ErrCaptureGap
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops reading and terminates ffmpeg if it was spawned.
func (s *RawSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}

// String describes the source for logs.
func (s *RawSource) String() string {
	return fmt.Sprintf("%s %dx%d", s.name, s.width, s.height)
}

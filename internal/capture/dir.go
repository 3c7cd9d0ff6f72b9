package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/pkg/types"
)

// DirSource yields every JPEG or PNG file created or rewritten in a watched
// directory, in event order.
type DirSource struct {
	dir     string
	watcher *fsnotify.Watcher
	gap     time.Duration

	frameNum uint64
	lastData []byte
}

// NewDirSource starts watching dir.
func NewDirSource(dir string, gap time.Duration) (*DirSource, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	log.Info("Watching %s for frames", dir)
	return &DirSource{dir: dir, watcher: watcher, gap: gap}, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Read waits for the next decodable image file.
func (s *DirSource) Read(ctx context.Context) (*types.Frame, error) {
	timer := time.NewTimer(s.gap)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil, io.EOF
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isImageFile(event.Name) {
				continue
			}
			if frame, ok := s.load(event.Name); ok {
				return frame, nil
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil, io.EOF
			}
			log.Warn("Watcher error: %v", err)

		case <-timer.C:
			return nil, ErrCaptureGap

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// load decodes path. Files still being written fail to decode and are
// picked up again on their next write event.
func (s *DirSource) load(path string) (*types.Frame, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debug("Skipping %s: %v", path, err)
		return nil, false
	}
	// The same write often raises more than one event.
	if bytes.Equal(data, s.lastData) {
		return nil, false
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug("Skipping %s: %v", path, err)
		return nil, false
	}
	s.lastData = data
	s.frameNum++

	return &types.Frame{
		Image:     types.ToRGBA(img),
		Timestamp: time.Now(),
		FrameNum:  s.frameNum,
		Source:    filepath.Base(path),
	}, true
}

// Close stops watching.
func (s *DirSource) Close() error {
	return s.watcher.Close()
}

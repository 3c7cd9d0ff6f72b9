//go:build linux && cgo

package capture

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>

#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

static SharedFrameBuffer* open_frame_shm(const char* name) {
    int fd = shm_open(name, O_RDONLY, 0666);
    if (fd == -1) {
        return NULL;
    }
    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL, sizeof(SharedFrameBuffer), PROT_READ, MAP_SHARED, fd, 0);
    close(fd);
    if (shm == MAP_FAILED) {
        return NULL;
    }
    return shm;
}

static void close_frame_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

static uint32_t frame_write_index(SharedFrameBuffer* shm) {
    return __atomic_load_n(&shm->write_index, __ATOMIC_ACQUIRE);
}

// Copies the newest slot; returns the write index it was taken from, or 0.
static uint32_t read_latest_frame(SharedFrameBuffer* shm, Frame* out) {
    uint32_t write_idx = __atomic_load_n(&shm->write_index, __ATOMIC_ACQUIRE);
    if (write_idx == 0) {
        return 0;
    }
    memcpy(out, &shm->frames[(write_idx - 1) % RING_BUFFER_SIZE], sizeof(Frame));
    return write_idx;
}
*/
import "C"

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"time"
	"unsafe"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/pkg/types"
)

const (
	formatJPEG   = 0
	maxFrameSize = 1920 * 1080 * 3 / 2
)

// ShmSource reads JPEG frames from a camera daemon's shared-memory ring
// buffer. An unchanged write index means no new frame.
type ShmSource struct {
	name      string
	shm       *C.SharedFrameBuffer
	poll      time.Duration
	gap       time.Duration
	lastIndex uint32
}

// NewShmSource maps the named ring buffer read-only.
func NewShmSource(name string, fps int, gap time.Duration) (Source, error) {
	cName := C.CString(name)
	shm := C.open_frame_shm(cName)
	C.free(unsafe.Pointer(cName))
	if shm == nil {
		return nil, fmt.Errorf("shared memory %s not available", name)
	}

	poll := 10 * time.Millisecond
	if fps > 0 {
		poll = time.Second / time.Duration(fps*2)
	}

	log.Info("Reading frames from shared memory %s", name)
	return &ShmSource{name: name, shm: shm, poll: poll, gap: gap}, nil
}

// Read waits for the write index to advance, then decodes the newest slot.
func (s *ShmSource) Read(ctx context.Context) (*types.Frame, error) {
	if s.shm == nil {
		return nil, fmt.Errorf("shared memory %s closed", s.name)
	}

	deadline := time.Now().Add(s.gap)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for uint32(C.frame_write_index(s.shm)) == s.lastIndex {
		if time.Now().After(deadline) {
			return nil, ErrCaptureGap
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var cFrame C.Frame
	index := uint32(C.read_latest_frame(s.shm, &cFrame))
	if index == 0 {
		return nil, ErrCaptureGap
	}
	s.lastIndex = index

	dataSize := int(cFrame.data_size)
	if dataSize <= 0 || dataSize > maxFrameSize {
		return nil, fmt.Errorf("%s: bad frame size %d", s.name, dataSize)
	}
	if int(cFrame.format) != formatJPEG {
		return nil, fmt.Errorf("%s: unsupported frame format %d", s.name, int(cFrame.format))
	}

	data := C.GoBytes(unsafe.Pointer(&cFrame.data[0]), C.int(dataSize))
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: decode frame %d: %w", s.name, uint64(cFrame.frame_number), err)
	}

	return &types.Frame{
		Image:     types.ToRGBA(img),
		Timestamp: time.Unix(int64(cFrame.timestamp.tv_sec), int64(cFrame.timestamp.tv_nsec)),
		FrameNum:  uint64(cFrame.frame_number),
		Source:    s.name,
	}, nil
}

// Close unmaps the buffer.
func (s *ShmSource) Close() error {
	if s.shm != nil {
		C.close_frame_shm(s.shm)
		s.shm = nil
	}
	return nil
}

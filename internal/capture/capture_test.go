package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/config"
)

func TestRawSourceFramesThenEOF(t *testing.T) {
	const w, h = 4, 2
	frame := bytes.Repeat([]byte{10, 20, 30, 255}, w*h)
	stream := append(append(append([]byte{}, frame...), frame...), 1, 2, 3)

	src := NewRawSource(bytes.NewReader(stream), "test", w, h, time.Second)
	defer src.Close()
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		f, err := src.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), f.FrameNum)
		assert.Equal(t, w, f.Width())
		assert.Equal(t, h, f.Height())
		assert.Equal(t, color.RGBA{10, 20, 30, 255}, f.Image.RGBAAt(3, 1))
		assert.Equal(t, "test", f.Source)
	}

	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRawSourceReadError(t *testing.T) {
	boom := errors.New("pipe broke")
	src := NewRawSource(io.MultiReader(bytes.NewReader(nil), errReader{boom}), "test", 2, 2, time.Second)
	defer src.Close()

	_, err := src.Read(context.Background())
	assert.ErrorIs(t, err, boom)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestRawSourceGap(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	src := NewRawSource(pr, "test", 2, 2, 20*time.Millisecond)
	defer src.Close()

	_, err := src.Read(context.Background())
	assert.ErrorIs(t, err, ErrCaptureGap)
}

func TestRawSourceContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	src := NewRawSource(pr, "test", 2, 2, time.Minute)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFFmpegArgs(t *testing.T) {
	opts := FFmpegOptions{Device: "/dev/video0", Width: 640, Height: 480, FPS: 15}
	assert.Equal(t, []string{"-f", "v4l2", "-i", "/dev/video0"}, opts.args()[:4])
	assert.Contains(t, opts.args(), "fps=15,scale=640:480")

	opts.URL = "rtsp://cam/stream"
	assert.Equal(t, []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam/stream"}, opts.args()[:4])
}

// writeFrame writes a PNG under a temporary name and renames it into dir so
// the watcher sees one complete file.
func writeFrame(t *testing.T, dir, name string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	tmp := filepath.Join(t.TempDir(), name+".tmp")
	require.NoError(t, os.WriteFile(tmp, buf.Bytes(), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	src, err := NewDirSource(dir, 2*time.Second)
	require.NoError(t, err)
	defer src.Close()
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	writeFrame(t, dir, "0001.png", color.RGBA{200, 0, 0, 255})

	f, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0001.png", f.Source)
	assert.Equal(t, 8, f.Width())
	assert.Equal(t, 6, f.Height())
	assert.Equal(t, color.RGBA{200, 0, 0, 255}, f.Image.RGBAAt(0, 0))
	assert.Equal(t, uint64(1), f.FrameNum)

	writeFrame(t, dir, "0002.png", color.RGBA{0, 0, 200, 255})
	f, err = src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0002.png", f.Source)
	assert.Equal(t, uint64(2), f.FrameNum)
}

func TestDirSourceGap(t *testing.T) {
	src, err := NewDirSource(t.TempDir(), 20*time.Millisecond)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Read(context.Background())
	assert.ErrorIs(t, err, ErrCaptureGap)
}

func TestDirSourceMissingDir(t *testing.T) {
	_, err := NewDirSource(filepath.Join(t.TempDir(), "missing"), time.Second)
	assert.Error(t, err)
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(context.Background(), config.CaptureConfig{Kind: "webcam"})
	assert.Error(t, err)
}

package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestAcquireWrapsDriverErrors(t *testing.T) {
	adapter := NewAdapter(&SyntheticDriver{OpenErr: errors.New("permission denied")}, zap.NewNop())

	stream, err := adapter.Acquire(context.Background(), Constraints{Width: 1280, Height: 720})
	require.Nil(t, stream)
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	require.Contains(t, err.Error(), "permission denied")
}

func TestReleaseIsIdempotent(t *testing.T) {
	driver := &SyntheticDriver{}
	adapter := NewAdapter(driver, zap.NewNop())

	stream, err := adapter.Acquire(context.Background(), Constraints{})
	require.NoError(t, err)

	require.True(t, adapter.Release(stream))
	require.False(t, adapter.Release(stream))
	require.Equal(t, 1, driver.Stops())
	require.True(t, stream.Released())

	_, err = adapter.Frame(stream)
	require.ErrorIs(t, err, ErrStreamReleased)
}

func TestRecordForEmptyStream(t *testing.T) {
	adapter := NewAdapter(&SyntheticDriver{}, zap.NewNop())
	stream, err := adapter.Acquire(context.Background(), Constraints{})
	require.NoError(t, err)
	defer adapter.Release(stream)

	started := time.Now()
	clip, err := adapter.RecordFor(context.Background(), stream, 50*time.Millisecond)
	require.Nil(t, clip)
	require.ErrorIs(t, err, ErrEmptyRecording)
	require.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
}

func TestRecordForConcatenatesChunks(t *testing.T) {
	driver := &SyntheticDriver{
		Chunks:        [][]byte{[]byte("ab"), []byte("cd"), []byte("ef")},
		ChunkInterval: time.Millisecond,
		Format:        "video/webm",
	}
	adapter := NewAdapter(driver, zap.NewNop())
	stream, err := adapter.Acquire(context.Background(), Constraints{})
	require.NoError(t, err)
	defer adapter.Release(stream)

	clip, err := adapter.RecordFor(context.Background(), stream, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, EvidenceVideo, clip.Kind)
	require.Equal(t, "abcdef", string(clip.Data))
	require.Equal(t, "video/webm", clip.MIMEType)
	require.GreaterOrEqual(t, clip.Duration, 200*time.Millisecond)
}

func TestRecordForHonoursCancellation(t *testing.T) {
	adapter := NewAdapter(&SyntheticDriver{}, zap.NewNop())
	stream, err := adapter.Acquire(context.Background(), Constraints{})
	require.NoError(t, err)
	defer adapter.Release(stream)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = adapter.RecordFor(ctx, stream, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSnapshot(t *testing.T) {
	t.Run("no frame", func(t *testing.T) {
		adapter := NewAdapter(&SyntheticDriver{}, zap.NewNop())
		stream, err := adapter.Acquire(context.Background(), Constraints{})
		require.NoError(t, err)

		_, err = adapter.Snapshot(stream)
		require.ErrorIs(t, err, ErrFrameUnavailable)
	})

	t.Run("native size", func(t *testing.T) {
		data := testJPEG(t, 64, 36)
		adapter := NewAdapter(&SyntheticDriver{Frames: []Frame{{Data: data, Width: 64, Height: 36}}}, zap.NewNop())
		stream, err := adapter.Acquire(context.Background(), Constraints{})
		require.NoError(t, err)

		still, err := adapter.Snapshot(stream)
		require.NoError(t, err)
		require.Equal(t, EvidenceImage, still.Kind)
		require.Equal(t, data, still.Data)
		require.Equal(t, "image/jpeg", still.MIMEType)
	})

	t.Run("downscaled", func(t *testing.T) {
		data := testJPEG(t, 128, 72)
		adapter := NewAdapter(&SyntheticDriver{Frames: []Frame{{Data: data, Width: 128, Height: 72}}}, zap.NewNop())
		stream, err := adapter.Acquire(context.Background(), Constraints{SnapshotMaxWidth: 64})
		require.NoError(t, err)

		still, err := adapter.Snapshot(stream)
		require.NoError(t, err)
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(still.Data))
		require.NoError(t, err)
		require.Equal(t, 64, cfg.Width)
		require.Equal(t, 36, cfg.Height)
	})
}

func TestEvidenceDataURI(t *testing.T) {
	ev := NewStillImage([]byte("hi"), "image/jpeg", time.Now())
	require.Equal(t, "data:image/jpeg;base64,aGk=", ev.DataURI())
	require.Equal(t, "image", ev.Kind.String())
}

func TestDirectoryDriver(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001.png"), buf.Bytes(), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	adapter := NewAdapter(NewDirectoryDriver(dir), zap.NewNop())
	stream, err := adapter.Acquire(context.Background(), Constraints{FPS: 50})
	require.NoError(t, err)

	frame, err := adapter.Frame(stream)
	require.NoError(t, err)
	require.Equal(t, 32, frame.Width)
	require.Equal(t, 24, frame.Height)
	_, err = jpeg.DecodeConfig(bytes.NewReader(frame.Data))
	require.NoError(t, err)

	clip, err := adapter.RecordFor(context.Background(), stream, 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "video/x-motion-jpeg", clip.MIMEType)

	require.True(t, adapter.Release(stream))
}

func TestDirectoryDriverWithoutFrames(t *testing.T) {
	adapter := NewAdapter(NewDirectoryDriver(t.TempDir()), zap.NewNop())
	_, err := adapter.Acquire(context.Background(), Constraints{})
	require.ErrorIs(t, err, ErrDeviceUnavailable)
}

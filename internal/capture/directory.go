package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DirectoryDriver serves the JPEG and PNG files of a directory as a camera,
// looping over them at the requested frame rate. Recordings are motion JPEG.
type DirectoryDriver struct {
	Dir string
}

// NewDirectoryDriver returns a driver reading frames from dir.
func NewDirectoryDriver(dir string) *DirectoryDriver {
	return &DirectoryDriver{Dir: dir}
}

// Open loads every frame of the directory.
func (d *DirectoryDriver) Open(ctx context.Context, c Constraints) (Track, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no frames in %s", ErrDeviceUnavailable, d.Dir)
	}

	frames := make([]Frame, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := loadFrame(filepath.Join(d.Dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}

	fps := c.FPS
	if fps <= 0 {
		fps = 15
	}
	return &directoryTrack{
		frames:   frames,
		interval: time.Second / time.Duration(fps),
		started:  time.Now(),
		stopped:  make(chan struct{}),
	}, nil
}

func loadFrame(path string) (Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame %s: %w", path, err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame %s: %w", path, err)
	}
	if format != "jpeg" {
		if data, err = encodeJPEG(img); err != nil {
			return Frame{}, fmt.Errorf("failed to encode frame %s: %w", path, err)
		}
	}
	b := img.Bounds()
	return Frame{Data: data, Width: b.Dx(), Height: b.Dy()}, nil
}

type directoryTrack struct {
	frames   []Frame
	interval time.Duration
	started  time.Time

	once    sync.Once
	stopped chan struct{}
}

func (t *directoryTrack) index(now time.Time) int64 {
	return int64(now.Sub(t.started) / t.interval)
}

func (t *directoryTrack) Latest() (Frame, bool) {
	select {
	case <-t.stopped:
		return Frame{}, false
	default:
	}
	now := time.Now()
	seq := t.index(now)
	f := t.frames[seq%int64(len(t.frames))]
	f.Seq = seq
	f.Timestamp = now.UTC()
	return f, true
}

func (t *directoryTrack) Encode(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopped:
				return
			case now := <-ticker.C:
				f := t.frames[t.index(now)%int64(len(t.frames))]
				select {
				case out <- f.Data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *directoryTrack) VideoFormat() string {
	return "video/x-motion-jpeg"
}

func (t *directoryTrack) Stop() error {
	t.once.Do(func() { close(t.stopped) })
	return nil
}

package capture

import (
	"context"
	"sync"
	"time"
)

// SyntheticDriver replays scripted frames and chunks. It stands in for real
// hardware in tests and demos.
type SyntheticDriver struct {
	Frames        []Frame
	Chunks        [][]byte
	ChunkInterval time.Duration
	Format        string
	OpenErr       error

	mu     sync.Mutex
	opens  int
	stops  int
	tracks []*syntheticTrack
}

// Open returns a new scripted track, or OpenErr when set.
func (d *SyntheticDriver) Open(ctx context.Context, c Constraints) (Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.opens++
	t := &syntheticTrack{driver: d}
	d.tracks = append(d.tracks, t)
	return t, nil
}

// Opens returns how many tracks were opened.
func (d *SyntheticDriver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Stops returns how many times a track was stopped.
func (d *SyntheticDriver) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

type syntheticTrack struct {
	driver *SyntheticDriver

	mu   sync.Mutex
	next int
}

func (t *syntheticTrack) Latest() (Frame, bool) {
	t.driver.mu.Lock()
	frames := t.driver.Frames
	t.driver.mu.Unlock()
	if len(frames) == 0 {
		return Frame{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	f := frames[t.next%len(frames)]
	f.Seq = int64(t.next)
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	t.next++
	return f, true
}

func (t *syntheticTrack) Encode(ctx context.Context) (<-chan []byte, error) {
	t.driver.mu.Lock()
	chunks := append([][]byte(nil), t.driver.Chunks...)
	interval := t.driver.ChunkInterval
	t.driver.mu.Unlock()
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if i >= len(chunks) {
					continue
				}
				select {
				case out <- chunks[i]:
					i++
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *syntheticTrack) VideoFormat() string {
	if t.driver.Format != "" {
		return t.driver.Format
	}
	return "video/webm"
}

func (t *syntheticTrack) Stop() error {
	t.driver.mu.Lock()
	t.driver.stops++
	t.driver.mu.Unlock()
	return nil
}

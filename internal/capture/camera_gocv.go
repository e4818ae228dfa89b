//go:build gocv

package capture

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// CameraDriver opens a local webcam through OpenCV.
type CameraDriver struct {
	DeviceID int
}

// NewCameraDriver returns a driver for the given OpenCV device index.
func NewCameraDriver(deviceID int) *CameraDriver {
	return &CameraDriver{DeviceID: deviceID}
}

// Open starts reading frames from the camera.
func (d *CameraDriver) Open(ctx context.Context, c Constraints) (Track, error) {
	cam, err := gocv.OpenVideoCapture(d.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if !cam.IsOpened() {
		cam.Close()
		return nil, fmt.Errorf("%w: device %d not opened", ErrDeviceUnavailable, d.DeviceID)
	}
	if c.Width > 0 && c.Height > 0 {
		cam.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
		cam.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	if c.FPS > 0 {
		cam.Set(gocv.VideoCaptureFPS, float64(c.FPS))
	}

	t := &cameraTrack{
		cam:         cam,
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
		subscribers: make(map[chan []byte]struct{}),
	}
	go t.readLoop()
	return t, nil
}

type cameraTrack struct {
	cam *gocv.VideoCapture

	mu          sync.RWMutex
	latest      Frame
	hasFrame    bool
	seq         int64
	subscribers map[chan []byte]struct{}

	once    sync.Once
	stopped chan struct{}
	done    chan struct{}
}

func (t *cameraTrack) readLoop() {
	defer close(t.done)
	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-t.stopped:
			return
		default:
		}
		if ok := t.cam.Read(&mat); !ok || mat.Empty() {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
		if err != nil {
			continue
		}
		data := bytes.Clone(buf.GetBytes())
		buf.Close()

		t.mu.Lock()
		t.seq++
		t.latest = Frame{
			Data:      data,
			Width:     mat.Cols(),
			Height:    mat.Rows(),
			Seq:       t.seq,
			Timestamp: time.Now().UTC(),
		}
		t.hasFrame = true
		for ch := range t.subscribers {
			select {
			case ch <- data:
			default:
			}
		}
		t.mu.Unlock()
	}
}

func (t *cameraTrack) Latest() (Frame, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.hasFrame
}

func (t *cameraTrack) Encode(ctx context.Context) (<-chan []byte, error) {
	in := make(chan []byte, 8)
	t.mu.Lock()
	t.subscribers[in] = struct{}{}
	t.mu.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			t.mu.Lock()
			delete(t.subscribers, in)
			t.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopped:
				return
			case chunk := <-in:
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *cameraTrack) VideoFormat() string {
	return "video/x-motion-jpeg"
}

func (t *cameraTrack) Stop() error {
	var err error
	t.once.Do(func() {
		close(t.stopped)
		<-t.done
		err = t.cam.Close()
	})
	return err
}

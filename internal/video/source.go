package video

import (
	"context"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"speedtrap-service/internal/pipeline"
)

const defaultFPS = 30

// Source reads frames from a camera device or a video file/stream URL.
type Source struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	fps     float64
	next    int
	input   string
}

// Open treats an all-digit input as a device index and anything else as a
// file path or stream URL. fpsOverride > 0 replaces the container FPS.
func Open(input string, fpsOverride float64) (*Source, error) {
	var (
		capture *gocv.VideoCapture
		err     error
	)
	if device, ok := deviceIndex(input); ok {
		capture, err = gocv.OpenVideoCapture(device)
	} else {
		capture, err = gocv.VideoCaptureFile(input)
	}
	if err != nil {
		return nil, fmt.Errorf("open video source %q: %w", input, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video source %q is not opened", input)
	}
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	fps := fpsOverride
	if fps <= 0 {
		fps = capture.Get(gocv.VideoCaptureFPS)
	}

	return &Source{
		capture: capture,
		mat:     gocv.NewMat(),
		fps:     normalizeFPS(fps),
		input:   input,
	}, nil
}

func (s *Source) FPS() float64 {
	return s.fps
}

func (s *Source) Next(ctx context.Context) (pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Frame{}, err
	}
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return pipeline.Frame{}, io.EOF
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return pipeline.Frame{}, fmt.Errorf("decode frame %d: %w", s.next, err)
	}

	frame := pipeline.Frame{
		Number:     s.next,
		Image:      img,
		CapturedAt: time.Now(),
	}
	s.next++
	return frame, nil
}

// Size returns the frame width and height reported by the capture.
func (s *Source) Size() image.Point {
	return image.Pt(
		int(s.capture.Get(gocv.VideoCaptureFrameWidth)),
		int(s.capture.Get(gocv.VideoCaptureFrameHeight)),
	)
}

func (s *Source) Close() error {
	s.mat.Close()
	return s.capture.Close()
}

func deviceIndex(input string) (int, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, false
	}
	for _, r := range input {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(input)
	return n, err == nil
}

func normalizeFPS(fps float64) float64 {
	if fps <= 0 {
		return defaultFPS
	}
	return fps
}

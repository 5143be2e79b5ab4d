package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"

	"speedtrap-service/internal/domain/violation"
	"speedtrap-service/internal/tracking"
)

// Frame is one decoded video frame. Numbers increase by one per frame read.
type Frame struct {
	Number     int
	Image      image.Image
	CapturedAt time.Time
}

// FrameSource yields frames in order and returns io.EOF at end of stream.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	FPS() float64
}

type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]tracking.Detection, error)
}

// PlateRecognizer reads plate text from a vehicle crop. Any error is treated
// as "no plate".
type PlateRecognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// ViolationSink persists a violation and returns the id the store assigned.
type ViolationSink interface {
	RecordViolation(ctx context.Context, record violation.Record) (uuid.UUID, error)
}

type Notifier interface {
	Notify(ctx context.Context, record violation.Record) error
}

// SnapshotStore keeps the vehicle crop for a violation and returns where it
// was stored.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, plate string, at time.Time, img image.Image) (string, error)
}

package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"speedtrap-service/internal/utils"
)

const jpegQuality = 90

// SnapshotKey is the object key for a violation snapshot, e.g.
// violations/AB1234_20240501_081500.jpg.
func SnapshotKey(plate string, at time.Time) string {
	name := utils.NormalizePlate(plate)
	if name == "" {
		name = "UNKNOWN"
	}
	return fmt.Sprintf("violations/%s_%s.jpg", name, at.Format("20060102_150405"))
}

func encodeJPEG(img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("empty snapshot image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

type snapshotSaver interface {
	SaveSnapshot(ctx context.Context, plate string, at time.Time, img image.Image) (string, error)
}

// Fallback saves to the primary store and falls back to the secondary one
// when the primary fails.
type Fallback struct {
	primary   snapshotSaver
	secondary snapshotSaver
	log       zerolog.Logger
}

func NewFallback(primary, secondary snapshotSaver, log zerolog.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, log: log}
}

func (f *Fallback) SaveSnapshot(ctx context.Context, plate string, at time.Time, img image.Image) (string, error) {
	path, err := f.primary.SaveSnapshot(ctx, plate, at, img)
	if err == nil {
		return path, nil
	}
	f.log.Warn().
		Err(err).
		Str("plate", plate).
		Msg("primary snapshot store failed, saving locally")

	path, fallbackErr := f.secondary.SaveSnapshot(ctx, plate, at, img)
	if fallbackErr != nil {
		return "", fmt.Errorf("save snapshot: %w (fallback: %s)", err, strings.TrimSpace(fallbackErr.Error()))
	}
	return path, nil
}

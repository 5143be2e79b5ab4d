// Package pipeline drives the per-frame loop: detection, tracking, speed
// estimation, plate recognition and violation admission.
//
// All state is owned by a single Processor and mutated from one goroutine;
// frames are processed to completion one at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speedtrap-service/internal/admission"
	"speedtrap-service/internal/domain/violation"
	"speedtrap-service/internal/speed"
	"speedtrap-service/internal/timeutil"
	"speedtrap-service/internal/tracking"
	"speedtrap-service/internal/utils"
)

var ErrDetection = errors.New("detection failed")

type Deps struct {
	Detector   Detector
	Recognizer PlateRecognizer
	Sink       ViolationSink
	Notifier   Notifier
	Snapshots  SnapshotStore
	Clock      timeutil.Clock
}

type Config struct {
	Location  string
	Tracking  tracking.Config
	Speed     speed.Config
	Admission admission.Config
}

// TrackSpeed is a track with its smoothed speed for one frame.
type TrackSpeed struct {
	Track tracking.Track
	Speed float64
}

type FrameResult struct {
	Number     int
	Tracks     []TrackSpeed
	Violations []violation.Record
	Duplicates int
}

type RunStats struct {
	Frames     int
	Violations int
	Duplicates int
}

type Processor struct {
	tracker   *tracking.Tracker
	estimator *speed.Estimator
	admission *admission.Controller

	detector   Detector
	recognizer PlateRecognizer
	sink       ViolationSink
	notifier   Notifier
	snapshots  SnapshotStore
	clock      timeutil.Clock

	location string
	runID    string
	log      zerolog.Logger
}

func NewProcessor(cfg Config, deps Deps, log zerolog.Logger) (*Processor, error) {
	if deps.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	if deps.Recognizer == nil {
		return nil, errors.New("pipeline: plate recognizer is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("pipeline: violation sink is required")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}

	runID := uuid.NewString()
	return &Processor{
		tracker:    tracking.NewTracker(cfg.Tracking, deps.Clock),
		estimator:  speed.NewEstimator(cfg.Speed),
		admission:  admission.NewController(cfg.Admission, speed.DefaultFPS),
		detector:   deps.Detector,
		recognizer: deps.Recognizer,
		sink:       deps.Sink,
		notifier:   deps.Notifier,
		snapshots:  deps.Snapshots,
		clock:      deps.Clock,
		location:   cfg.Location,
		runID:      runID,
		log:        log.With().Str("run_id", runID).Logger(),
	}, nil
}

// SetFPS must be called once the video source is open and before the first
// frame is processed.
func (p *Processor) SetFPS(fps float64) {
	p.estimator.SetFPS(fps)
	p.admission.SetFPS(p.estimator.FPS())
}

func (p *Processor) RunID() string {
	return p.runID
}

// ProcessFrame runs one frame through the pipeline. Only a detection failure
// is returned as an error; downstream failures are logged and the frame
// continues.
func (p *Processor) ProcessFrame(ctx context.Context, frame Frame) (*FrameResult, error) {
	detections, err := p.detector.Detect(ctx, frame.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", ErrDetection, frame.Number, err)
	}

	tracks := p.tracker.Update(detections)
	result := &FrameResult{
		Number: frame.Number,
		Tracks: make([]TrackSpeed, 0, len(tracks)),
	}

	for _, id := range tracking.SortedIDs(tracks) {
		track := tracks[id]
		kmh := p.estimator.UpdateObject(id, track.BBox, frame.Number)
		result.Tracks = append(result.Tracks, TrackSpeed{Track: track, Speed: kmh})

		if !p.admission.Exceeds(kmh) {
			continue
		}
		p.handleSpeeding(ctx, frame, track, kmh, result)
	}

	// Cleanup runs after all per-track work so a history expiring on this
	// frame is still used within it.
	if removed := p.estimator.CleanupOldObjects(frame.Number); removed > 0 {
		p.log.Debug().
			Int("frame", frame.Number).
			Int("removed", removed).
			Int("remaining", p.estimator.Tracked()).
			Msg("expired speed histories")
	}

	return result, nil
}

func (p *Processor) handleSpeeding(ctx context.Context, frame Frame, track tracking.Track, kmh float64, result *FrameResult) {
	crop := cropImage(frame.Image, track.BBox.Rect())

	text, err := p.recognizer.Recognize(ctx, crop)
	if err != nil {
		p.log.Debug().
			Err(err).
			Int("track_id", track.ID).
			Float64("speed", kmh).
			Msg("no plate for speeding vehicle")
		return
	}
	plate := utils.NormalizePlate(text)

	decision := p.admission.Admit(plate, frame.Number)
	switch decision {
	case admission.DecisionInvalidPlate:
		p.log.Debug().
			Str("plate", plate).
			Int("track_id", track.ID).
			Msg("plate too short, skipping")
		return
	case admission.DecisionDuplicate:
		result.Duplicates++
		p.log.Debug().
			Str("plate", plate).
			Int("frame", frame.Number).
			Msg("violation already recorded in this window")
		return
	}

	// The cooldown key is now set, so the record must be written even if the
	// run is being shut down.
	ctx = context.WithoutCancel(ctx)

	now := p.clock.Now()
	record := violation.Record{
		LicensePlate: plate,
		Speed:        kmh,
		SpeedLimit:   p.admission.SpeedLimit(),
		Timestamp:    now,
		Location:     p.location,
		Details: violation.Details{
			RunID:       p.runID,
			TrackID:     track.ID,
			ClassID:     track.ClassID,
			Confidence:  track.Confidence,
			FrameNumber: frame.Number,
			Bucket:      p.admission.Bucket(frame.Number),
			BBox:        track.BBox,
		},
	}

	if p.snapshots != nil && crop != nil {
		path, err := p.snapshots.SaveSnapshot(ctx, plate, now, crop)
		if err != nil {
			p.log.Warn().Err(err).Str("plate", plate).Msg("failed to save violation snapshot")
		} else {
			record.ImagePath = path
		}
	}

	id, err := p.sink.RecordViolation(ctx, record)
	if err != nil {
		p.log.Error().
			Err(err).
			Str("plate", plate).
			Float64("speed", kmh).
			Msg("failed to record violation")
		return
	}
	record.ID = id

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, record); err != nil {
			p.log.Warn().Err(err).Str("plate", plate).Msg("failed to send violation notification")
		}
	}

	p.log.Info().
		Str("violation_id", id.String()).
		Str("plate", plate).
		Float64("speed", kmh).
		Float64("speed_limit", record.SpeedLimit).
		Int("track_id", track.ID).
		Int("frame", frame.Number).
		Msg("violation detected")

	result.Violations = append(result.Violations, record)
}

// Run pulls frames from source until it is exhausted or ctx is cancelled.
// The frame rate of the source is applied before the first frame. A frame
// that fails because ctx was cancelled ends the run without an error.
func (p *Processor) Run(ctx context.Context, source FrameSource) (RunStats, error) {
	var stats RunStats
	p.SetFPS(source.FPS())
	p.log.Info().Float64("fps", p.estimator.FPS()).Msg("frame processing started")

	for {
		if err := ctx.Err(); err != nil {
			return stats, nil
		}

		frame, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			return stats, fmt.Errorf("read frame: %w", err)
		}

		result, err := p.ProcessFrame(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info().Int("frame", frame.Number).Msg("frame interrupted by shutdown")
				return stats, nil
			}
			return stats, err
		}
		stats.Frames++
		stats.Violations += len(result.Violations)
		stats.Duplicates += result.Duplicates

		if stats.Frames%300 == 0 {
			p.log.Info().
				Int("frames", stats.Frames).
				Int("active_tracks", p.tracker.Active()).
				Int("violations", stats.Violations).
				Int("cooldown_keys", p.admission.Seen()).
				Msg("processing progress")
		}
	}
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropImage returns the part of img inside r, clipped to the image bounds,
// or nil when nothing remains.
func cropImage(img image.Image, r image.Rectangle) image.Image {
	if img == nil {
		return nil
	}
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	return nil
}

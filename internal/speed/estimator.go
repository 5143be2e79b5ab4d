// Package speed turns per-track bounding-box positions into smoothed
// real-world speed estimates.
package speed

import (
	"gonum.org/v1/gonum/stat"

	"speedtrap-service/internal/geom"
)

const (
	DefaultFPS                 = 30.0
	DefaultDistanceCalibration = 10.0
	DefaultMaxAgeFrames        = 30

	// SmoothingWindow is the number of trailing instantaneous speeds averaged.
	SmoothingWindow = 5
	// cleanupInterval is the minimum frame gap between history sweeps.
	cleanupInterval = 10

	msToKmh = 3.6
)

// Sample is one recorded position of a track.
type Sample struct {
	Center      geom.Point
	Time        float64
	FrameNumber int
}

// History is the position and speed record for one track id.
type History struct {
	Samples []Sample
	Speeds  []float64
}

func (h *History) last() Sample {
	return h.Samples[len(h.Samples)-1]
}

// Smoothed returns the mean of the last SmoothingWindow speeds, or 0 when none
// were recorded.
func (h *History) Smoothed() float64 {
	if len(h.Speeds) == 0 {
		return 0
	}
	start := len(h.Speeds) - SmoothingWindow
	if start < 0 {
		start = 0
	}
	return stat.Mean(h.Speeds[start:], nil)
}

type Config struct {
	// DistanceCalibration is the number of pixels per meter of road.
	DistanceCalibration float64
	MaxAgeFrames        int
}

// Estimator keeps one History per track id. It expires histories by frame
// count, independently of the tracker's wall-clock expiry.
type Estimator struct {
	distanceCalibration float64
	maxAgeFrames        int
	fps                 float64
	lastCleanup         int
	histories           map[int]*History
}

func NewEstimator(cfg Config) *Estimator {
	if cfg.DistanceCalibration <= 0 {
		cfg.DistanceCalibration = DefaultDistanceCalibration
	}
	if cfg.MaxAgeFrames <= 0 {
		cfg.MaxAgeFrames = DefaultMaxAgeFrames
	}
	return &Estimator{
		distanceCalibration: cfg.DistanceCalibration,
		maxAgeFrames:        cfg.MaxAgeFrames,
		fps:                 DefaultFPS,
		histories:           make(map[int]*History),
	}
}

// SetFPS sets the frame rate used to convert frame numbers into seconds.
// Non-positive values fall back to DefaultFPS.
func (e *Estimator) SetFPS(fps float64) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	e.fps = fps
}

func (e *Estimator) FPS() float64 {
	return e.fps
}

// UpdateObject records the center of bbox for a track at frameNumber and
// returns the smoothed speed in km/h.
func (e *Estimator) UpdateObject(trackID int, bbox geom.BBox, frameNumber int) float64 {
	return e.UpdateSample(trackID, bbox.Center(), float64(frameNumber)/e.fps, frameNumber)
}

// UpdateSample is UpdateObject with an explicit timestamp in seconds.
//
// The first sample of a track returns 0. A sample whose time does not advance
// past the previous one returns 0 and is not recorded.
func (e *Estimator) UpdateSample(trackID int, center geom.Point, t float64, frameNumber int) float64 {
	sample := Sample{Center: center, Time: t, FrameNumber: frameNumber}

	h, ok := e.histories[trackID]
	if !ok {
		e.histories[trackID] = &History{Samples: []Sample{sample}}
		return 0
	}

	prev := h.last()
	dt := t - prev.Time
	if dt <= 0 || frameNumber <= prev.FrameNumber {
		return 0
	}

	meters := geom.Distance(prev.Center, center) / e.distanceCalibration
	kmh := meters / dt * msToKmh

	h.Samples = append(h.Samples, sample)
	h.Speeds = append(h.Speeds, kmh)
	return h.Smoothed()
}

// CleanupOldObjects drops histories whose last sample is more than
// MaxAgeFrames behind currentFrame. It only sweeps when more than
// cleanupInterval frames passed since the previous sweep.
func (e *Estimator) CleanupOldObjects(currentFrame int) int {
	if currentFrame-e.lastCleanup <= cleanupInterval {
		return 0
	}

	removed := 0
	for id, h := range e.histories {
		if currentFrame-h.last().FrameNumber > e.maxAgeFrames {
			delete(e.histories, id)
			removed++
		}
	}
	e.lastCleanup = currentFrame
	return removed
}

// History returns a copy of the recorded history for a track.
func (e *Estimator) History(trackID int) (History, bool) {
	h, ok := e.histories[trackID]
	if !ok {
		return History{}, false
	}
	return History{
		Samples: append([]Sample(nil), h.Samples...),
		Speeds:  append([]float64(nil), h.Speeds...),
	}, true
}

// Tracked returns the number of histories held.
func (e *Estimator) Tracked() int {
	return len(e.histories)
}

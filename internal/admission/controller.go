// Package admission decides whether a speeding vehicle becomes a violation
// record. A plate is admitted at most once per cooldown bucket, where a bucket
// is a fixed window of frames (fps * window seconds).
package admission

import (
	"math"
	"unicode/utf8"
)

const (
	DefaultSanityCeiling   = 200.0
	DefaultMinPlateLength  = 4
	DefaultWindowSeconds   = 60
	DefaultRetainedBuckets = 2
)

type Decision int

const (
	DecisionAdmitted Decision = iota
	DecisionDuplicate
	DecisionInvalidPlate
)

func (d Decision) String() string {
	switch d {
	case DecisionAdmitted:
		return "admitted"
	case DecisionDuplicate:
		return "duplicate"
	case DecisionInvalidPlate:
		return "invalid_plate"
	default:
		return "unknown"
	}
}

type Config struct {
	SpeedLimit     float64
	SanityCeiling  float64
	MinPlateLength int
	WindowSeconds  int
	// RetainedBuckets is how many buckets behind the newest one are kept in
	// the seen set. Zero keeps every bucket forever.
	RetainedBuckets int
}

type cooldownKey struct {
	plate  string
	bucket int64
}

type Controller struct {
	cfg    Config
	fps    float64
	seen   map[cooldownKey]struct{}
	newest int64
}

func NewController(cfg Config, fps float64) *Controller {
	if cfg.SanityCeiling <= 0 {
		cfg.SanityCeiling = DefaultSanityCeiling
	}
	if cfg.MinPlateLength <= 0 {
		cfg.MinPlateLength = DefaultMinPlateLength
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = DefaultWindowSeconds
	}
	if cfg.RetainedBuckets < 0 {
		cfg.RetainedBuckets = 0
	}
	c := &Controller{
		cfg:  cfg,
		seen: make(map[cooldownKey]struct{}),
	}
	c.SetFPS(fps)
	return c
}

// SetFPS updates the frame rate used for bucketing. Non-positive values fall
// back to 30.
func (c *Controller) SetFPS(fps float64) {
	if fps <= 0 {
		fps = 30
	}
	c.fps = fps
}

func (c *Controller) SpeedLimit() float64 {
	return c.cfg.SpeedLimit
}

// Exceeds reports whether speed is above the limit and below the sanity
// ceiling that filters estimator outliers.
func (c *Controller) Exceeds(speed float64) bool {
	return speed > c.cfg.SpeedLimit && speed < c.cfg.SanityCeiling
}

// Bucket returns the cooldown bucket a frame falls into.
func (c *Controller) Bucket(frameNumber int) int64 {
	width := c.fps * float64(c.cfg.WindowSeconds)
	return int64(math.Floor(float64(frameNumber) / width))
}

// Admit records plate as seen in the bucket of frameNumber. Only the first
// call for a plate within a bucket returns DecisionAdmitted.
func (c *Controller) Admit(plate string, frameNumber int) Decision {
	if utf8.RuneCountInString(plate) < c.cfg.MinPlateLength {
		return DecisionInvalidPlate
	}

	key := cooldownKey{plate: plate, bucket: c.Bucket(frameNumber)}
	if _, ok := c.seen[key]; ok {
		return DecisionDuplicate
	}
	c.seen[key] = struct{}{}

	if key.bucket > c.newest {
		c.newest = key.bucket
		c.prune()
	}
	return DecisionAdmitted
}

func (c *Controller) prune() {
	if c.cfg.RetainedBuckets == 0 {
		return
	}
	oldest := c.newest - int64(c.cfg.RetainedBuckets)
	for key := range c.seen {
		if key.bucket < oldest {
			delete(c.seen, key)
		}
	}
}

// Seen returns the number of remembered (plate, bucket) pairs.
func (c *Controller) Seen() int {
	return len(c.seen)
}

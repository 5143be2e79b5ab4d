// Package tracking associates per-frame detections with persistent track
// identities using bounding-box overlap.
//
// Matching is greedy: detections are processed in input order and each one
// claims the unclaimed active track with the highest IOU above the threshold.
// This is order dependent and not a globally optimal assignment.
package tracking

import (
	"slices"
	"time"

	"speedtrap-service/internal/geom"
	"speedtrap-service/internal/timeutil"
)

const (
	DefaultIOUThreshold = 0.3
	DefaultMaxAge       = time.Second
)

// Detection is a single object found in one frame.
type Detection struct {
	BBox       geom.BBox `json:"bbox"`
	Confidence float64   `json:"confidence"`
	ClassID    int       `json:"class_id"`
}

// Track is the tracker's view of one physical object.
type Track struct {
	ID         int       `json:"id"`
	BBox       geom.BBox `json:"bbox"`
	Confidence float64   `json:"confidence"`
	ClassID    int       `json:"class_id"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

type Config struct {
	IOUThreshold float64
	MaxAge       time.Duration
}

type Tracker struct {
	iouThreshold float64
	maxAge       time.Duration
	clock        timeutil.Clock

	tracks map[int]*Track
	// order holds active ids ascending so scans are deterministic.
	order  []int
	nextID int
}

func NewTracker(cfg Config, clock timeutil.Clock) *Tracker {
	if cfg.IOUThreshold <= 0 || cfg.IOUThreshold > 1 {
		cfg.IOUThreshold = DefaultIOUThreshold
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Tracker{
		iouThreshold: cfg.IOUThreshold,
		maxAge:       cfg.MaxAge,
		clock:        clock,
		tracks:       make(map[int]*Track),
	}
}

// Update folds one frame of detections into the tracker and returns the
// tracks that were matched or created by this call, keyed by id. Tracks not
// seen for longer than the max age are evicted before returning.
func (t *Tracker) Update(detections []Detection) map[int]Track {
	now := t.clock.Now()
	current := make(map[int]Track, len(detections))
	claimed := make(map[int]bool, len(detections))

	for _, det := range detections {
		bestID := -1
		bestIOU := t.iouThreshold

		for _, id := range t.order {
			if claimed[id] {
				continue
			}
			iou := geom.IOU(det.BBox, t.tracks[id].BBox)
			if iou > bestIOU {
				bestIOU = iou
				bestID = id
			}
		}

		if bestID >= 0 {
			track := t.tracks[bestID]
			track.BBox = det.BBox
			track.Confidence = det.Confidence
			track.ClassID = det.ClassID
			track.LastSeen = now
			claimed[bestID] = true
			current[bestID] = *track
			continue
		}

		track := &Track{
			ID:         t.nextID,
			BBox:       det.BBox,
			Confidence: det.Confidence,
			ClassID:    det.ClassID,
			FirstSeen:  now,
			LastSeen:   now,
		}
		t.nextID++
		t.tracks[track.ID] = track
		t.order = append(t.order, track.ID)
		claimed[track.ID] = true
		current[track.ID] = *track
	}

	t.evict(now)
	for id := range current {
		if _, ok := t.tracks[id]; !ok {
			delete(current, id)
		}
	}
	return current
}

func (t *Tracker) evict(now time.Time) {
	kept := t.order[:0]
	for _, id := range t.order {
		if now.Sub(t.tracks[id].LastSeen) > t.maxAge {
			delete(t.tracks, id)
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

// Active returns the number of tracks currently held.
func (t *Tracker) Active() int {
	return len(t.tracks)
}

// Get returns an active track by id.
func (t *Tracker) Get(id int) (Track, bool) {
	track, ok := t.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *track, true
}

// SortedIDs returns the keys of a tracker result in ascending order.
func SortedIDs(tracks map[int]Track) []int {
	ids := make([]int, 0, len(tracks))
	for id := range tracks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

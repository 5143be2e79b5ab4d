package tracking

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedtrap-service/internal/geom"
	"speedtrap-service/internal/timeutil"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(clock *timeutil.MockClock) *Tracker {
	return NewTracker(Config{IOUThreshold: 0.3, MaxAge: time.Second}, clock)
}

func det(x1, y1, x2, y2 float64) Detection {
	return Detection{BBox: geom.NewBBox(x1, y1, x2, y2), Confidence: 0.9, ClassID: 2}
}

func TestTrackerKeepsIdentityForStationaryObject(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := newTestTracker(clock)

	for frame := 0; frame < 10; frame++ {
		got := tr.Update([]Detection{det(100, 100, 200, 180)})
		require.Len(t, got, 1)
		_, ok := got[0]
		assert.True(t, ok, "frame %d: expected track 0", frame)
		clock.Advance(33 * time.Millisecond)
	}
	assert.Equal(t, 1, tr.Active())
}

func TestTrackerCreatesNewTracks(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := newTestTracker(clock)

	got := tr.Update([]Detection{det(0, 0, 10, 10), det(100, 100, 120, 120)})

	want := map[int]Track{
		0: {ID: 0, BBox: geom.NewBBox(0, 0, 10, 10), Confidence: 0.9, ClassID: 2, FirstSeen: epoch, LastSeen: epoch},
		1: {ID: 1, BBox: geom.NewBBox(100, 100, 120, 120), Confidence: 0.9, ClassID: 2, FirstSeen: epoch, LastSeen: epoch},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Update() mismatch (-want +got):\n%s", diff)
	}
}

func TestTrackerUpdatesMatchedTrack(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := newTestTracker(clock)

	tr.Update([]Detection{det(0, 0, 10, 10)})
	clock.Advance(100 * time.Millisecond)

	moved := Detection{BBox: geom.NewBBox(1, 0, 11, 10), Confidence: 0.5, ClassID: 7}
	got := tr.Update([]Detection{moved})

	require.Contains(t, got, 0)
	track := got[0]
	assert.Equal(t, moved.BBox, track.BBox)
	assert.Equal(t, 0.5, track.Confidence)
	assert.Equal(t, 7, track.ClassID)
	assert.Equal(t, epoch, track.FirstSeen)
	assert.Equal(t, epoch.Add(100*time.Millisecond), track.LastSeen)
}

func TestTrackerBelowThresholdStartsNewTrack(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := newTestTracker(clock)

	tr.Update([]Detection{det(0, 0, 10, 10)})
	// IOU of these boxes is 20/180, below 0.3.
	got := tr.Update([]Detection{det(8, 0, 18, 10)})

	require.Len(t, got, 1)
	assert.Contains(t, got, 1)
	assert.Equal(t, 2, tr.Active())
}

func TestTrackerTrackMatchesAtMostOneDetection(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := newTestTracker(clock)

	tr.Update([]Detection{det(0, 0, 10, 10)})
	got := tr.Update([]Detection{det(0, 0, 10, 10), det(1, 0, 11, 10)})

	require.Len(t, got, 2)
	assert.Equal(t, geom.NewBBox(0, 0, 10, 10), got[0].BBox)
	assert.Equal(t, geom.NewBBox(1, 0, 11, 10), got[1].BBox)
}

func TestTrackerGreedyMatchingIsOrderDependent(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := newTestTracker(clock)

	tr.Update([]Detection{det(0, 0, 10, 10)})
	// The first detection overlaps track 0 less than the second one does,
	// but it is processed first and claims it.
	got := tr.Update([]Detection{det(4, 0, 14, 10), det(0, 0, 10, 10)})

	require.Len(t, got, 2)
	assert.Equal(t, geom.NewBBox(4, 0, 14, 10), got[0].BBox)
	assert.Equal(t, geom.NewBBox(0, 0, 10, 10), got[1].BBox)
}

func TestTrackerEvictsStaleTracks(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := newTestTracker(clock)

	tr.Update([]Detection{det(0, 0, 10, 10)})
	clock.Advance(1500 * time.Millisecond)

	got := tr.Update([]Detection{det(500, 500, 510, 510)})
	require.Len(t, got, 1)
	assert.Contains(t, got, 1)
	_, ok := tr.Get(0)
	assert.False(t, ok, "track 0 should have expired")

	// Reappearing at the old position yields a fresh id.
	got = tr.Update([]Detection{det(0, 0, 10, 10)})
	assert.Contains(t, got, 2)
}

func TestTrackerKeepsTrackWithinMaxAge(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := newTestTracker(clock)

	tr.Update([]Detection{det(0, 0, 10, 10)})
	clock.Advance(time.Second)
	assert.Empty(t, tr.Update(nil))
	assert.Equal(t, 1, tr.Active())

	got := tr.Update([]Detection{det(0, 0, 10, 10)})
	assert.Contains(t, got, 0)
}

func TestNewTrackerDefaults(t *testing.T) {
	tr := NewTracker(Config{}, nil)
	assert.Equal(t, DefaultIOUThreshold, tr.iouThreshold)
	assert.Equal(t, DefaultMaxAge, tr.maxAge)
}

func TestSortedIDs(t *testing.T) {
	ids := SortedIDs(map[int]Track{5: {}, 1: {}, 3: {}})
	assert.Equal(t, []int{1, 3, 5}, ids)
}

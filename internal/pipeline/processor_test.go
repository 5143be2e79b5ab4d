package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedtrap-service/internal/admission"
	"speedtrap-service/internal/domain/violation"
	"speedtrap-service/internal/geom"
	"speedtrap-service/internal/speed"
	"speedtrap-service/internal/timeutil"
	"speedtrap-service/internal/tracking"
)

type scriptedDetector struct {
	frames map[int][]tracking.Detection
	calls  int
	err    error
}

func (d *scriptedDetector) Detect(_ context.Context, img image.Image) ([]tracking.Detection, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.frames[d.calls-1], nil
}

type stubRecognizer struct {
	plate       string
	err         error
	calls       int
	crops       []image.Rectangle
	onRecognize func()
}

func (r *stubRecognizer) Recognize(_ context.Context, img image.Image) (string, error) {
	r.calls++
	if r.onRecognize != nil {
		r.onRecognize()
	}
	if img != nil {
		r.crops = append(r.crops, img.Bounds())
	}
	return r.plate, r.err
}

type memorySink struct {
	records []violation.Record
	err     error
}

func (s *memorySink) RecordViolation(ctx context.Context, record violation.Record) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if s.err != nil {
		return uuid.Nil, s.err
	}
	record.ID = uuid.New()
	s.records = append(s.records, record)
	return record.ID, nil
}

type recordingNotifier struct {
	sent []violation.Record
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, record violation.Record) error {
	n.sent = append(n.sent, record)
	return n.err
}

type stubSnapshots struct {
	calls int
	err   error
}

func (s *stubSnapshots) SaveSnapshot(_ context.Context, plate string, at time.Time, _ image.Image) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "violations/" + plate + "_" + at.Format("20060102_150405") + ".jpg", nil
}

type sliceSource struct {
	frames []Frame
	fps    float64
	pos    int
}

func (s *sliceSource) Next(ctx context.Context) (Frame, error) {
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceSource) FPS() float64 { return s.fps }

// cancelAfterSource hands out one frame and then cancels the run, as a
// signal arriving between reading a frame and detecting on it would.
type cancelAfterSource struct {
	sliceSource
	cancel context.CancelFunc
}

func (s *cancelAfterSource) Next(ctx context.Context) (Frame, error) {
	f, err := s.sliceSource.Next(ctx)
	s.cancel()
	return f, err
}

// ctxDetector fails once ctx is done, like the DNN detector does.
type ctxDetector struct {
	calls int
}

func (d *ctxDetector) Detect(ctx context.Context, _ image.Image) ([]tracking.Detection, error) {
	d.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

type fixture struct {
	detector   *scriptedDetector
	recognizer *stubRecognizer
	sink       *memorySink
	notifier   *recordingNotifier
	snapshots  *stubSnapshots
	clock      *timeutil.MockClock
	processor  *Processor
}

func newFixture(t *testing.T, frames map[int][]tracking.Detection, calibration float64) *fixture {
	t.Helper()
	f := &fixture{
		detector:   &scriptedDetector{frames: frames},
		recognizer: &stubRecognizer{plate: "ab-1234"},
		sink:       &memorySink{},
		notifier:   &recordingNotifier{},
		snapshots:  &stubSnapshots{},
		clock:      timeutil.NewMockClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
	}
	p, err := NewProcessor(Config{
		Location:  "Main St",
		Tracking:  tracking.Config{IOUThreshold: 0.3, MaxAge: time.Second},
		Speed:     speed.Config{DistanceCalibration: calibration, MaxAgeFrames: 30},
		Admission: admission.Config{SpeedLimit: 60, SanityCeiling: 2000, MinPlateLength: 4, WindowSeconds: 60},
	}, Deps{
		Detector:   f.detector,
		Recognizer: f.recognizer,
		Sink:       f.sink,
		Notifier:   f.notifier,
		Snapshots:  f.snapshots,
		Clock:      f.clock,
	}, zerolog.Nop())
	require.NoError(t, err)
	f.processor = p
	return f
}

func frameAt(n int) Frame {
	return Frame{Number: n, Image: image.NewRGBA(image.Rect(0, 0, 320, 240))}
}

func vehicle(x1, y1, x2, y2 float64) tracking.Detection {
	return tracking.Detection{BBox: geom.NewBBox(x1, y1, x2, y2), Confidence: 0.8, ClassID: 2}
}

// runFrames feeds frames 0..n-1, advancing the mock clock by one frame period.
func (f *fixture) runFrames(t *testing.T, n int, fps float64) []*FrameResult {
	t.Helper()
	f.processor.SetFPS(fps)
	results := make([]*FrameResult, 0, n)
	for i := 0; i < n; i++ {
		res, err := f.processor.ProcessFrame(context.Background(), frameAt(i))
		require.NoError(t, err)
		results = append(results, res)
		f.clock.Advance(time.Duration(float64(time.Second) / fps))
	}
	return results
}

func TestProcessFrameEndToEndSingleTrack(t *testing.T) {
	frames := map[int][]tracking.Detection{
		0: {vehicle(0, 0, 100, 100)},
		1: {vehicle(0, 0, 100, 100)},
		2: {vehicle(50, 0, 150, 100)},
	}
	f := newFixture(t, frames, 1)

	results := f.runFrames(t, 3, 10)

	for i, res := range results {
		require.Len(t, res.Tracks, 1, "frame %d", i)
		assert.Equal(t, 0, res.Tracks[0].Track.ID, "frame %d", i)
	}
	assert.Zero(t, results[0].Tracks[0].Speed)
	assert.Zero(t, results[1].Tracks[0].Speed)

	// 50 px at 1 px/m over 0.1 s is 1800 km/h, averaged with the stationary
	// 0 km/h step.
	assert.InDelta(t, 900, results[2].Tracks[0].Speed, 1e-6)

	require.Len(t, f.sink.records, 1)
	rec := f.sink.records[0]
	assert.Equal(t, "AB1234", rec.LicensePlate)
	assert.Equal(t, 60.0, rec.SpeedLimit)
	assert.Equal(t, "Main St", rec.Location)
	assert.Equal(t, 2, rec.Details.FrameNumber)
	assert.Equal(t, f.processor.RunID(), rec.Details.RunID)
	assert.NotEmpty(t, rec.ImagePath)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, rec.ID, f.notifier.sent[0].ID)
	assert.Equal(t, []image.Rectangle{image.Rect(50, 0, 150, 100)}, f.recognizer.crops)
}

func TestProcessFrameDisjointJumpStartsNewTrack(t *testing.T) {
	frames := map[int][]tracking.Detection{
		0: {vehicle(0, 0, 10, 10)},
		1: {vehicle(0, 0, 10, 10)},
		2: {vehicle(50, 0, 60, 10)},
	}
	f := newFixture(t, frames, 1)

	results := f.runFrames(t, 3, 10)

	require.Len(t, results[2].Tracks, 1)
	assert.Equal(t, 1, results[2].Tracks[0].Track.ID)
	assert.Zero(t, results[2].Tracks[0].Speed)
	assert.Empty(t, f.sink.records)
}

func TestProcessFrameDeduplicatesWithinWindow(t *testing.T) {
	frames := map[int][]tracking.Detection{}
	for i := 0; i < 6; i++ {
		x := float64(i * 20)
		frames[i] = []tracking.Detection{vehicle(x, 0, x+100, 100)}
	}
	f := newFixture(t, frames, 10)

	results := f.runFrames(t, 6, 30)

	// Every step after the first is 20 px / 10 px/m / (1/30 s) = 216 km/h.
	for _, res := range results[1:] {
		assert.InDelta(t, 216, res.Tracks[0].Speed, 1e-6)
	}
	assert.Len(t, f.sink.records, 1)
	assert.Len(t, f.notifier.sent, 1)

	duplicates := 0
	for _, res := range results {
		duplicates += res.Duplicates
	}
	assert.Equal(t, 4, duplicates)
}

func TestProcessFrameBelowLimitSkipsRecognition(t *testing.T) {
	frames := map[int][]tracking.Detection{
		0: {vehicle(0, 0, 100, 100)},
		1: {vehicle(1, 0, 101, 100)},
	}
	f := newFixture(t, frames, 10)

	f.runFrames(t, 2, 30)

	// 1 px / 10 * 30 * 3.6 = 10.8 km/h.
	assert.Zero(t, f.recognizer.calls)
	assert.Empty(t, f.sink.records)
}

func TestProcessFrameShortPlateNeverPersists(t *testing.T) {
	frames := map[int][]tracking.Detection{
		0: {vehicle(0, 0, 100, 100)},
		1: {vehicle(20, 0, 120, 100)},
	}
	f := newFixture(t, frames, 10)
	f.recognizer.plate = "AB1"

	f.runFrames(t, 2, 30)

	assert.Equal(t, 1, f.recognizer.calls)
	assert.Empty(t, f.sink.records)
	assert.Empty(t, f.notifier.sent)
}

func TestProcessFrameRecognitionErrorIsNotFatal(t *testing.T) {
	frames := map[int][]tracking.Detection{
		0: {vehicle(0, 0, 100, 100)},
		1: {vehicle(20, 0, 120, 100)},
		2: {vehicle(40, 0, 140, 100)},
	}
	f := newFixture(t, frames, 10)
	f.recognizer.err = errors.New("ocr backend down")

	results := f.runFrames(t, 3, 30)

	assert.Len(t, results, 3)
	assert.Equal(t, 2, f.recognizer.calls)
	assert.Empty(t, f.sink.records)
}

func TestProcessFrameDownstreamFailuresKeepState(t *testing.T) {
	frames := map[int][]tracking.Detection{
		0: {vehicle(0, 0, 100, 100)},
		1: {vehicle(20, 0, 120, 100)},
		2: {vehicle(40, 0, 140, 100)},
	}
	f := newFixture(t, frames, 10)
	f.snapshots.err = errors.New("disk full")
	f.notifier.err = errors.New("smtp unreachable")

	results := f.runFrames(t, 3, 30)

	require.Len(t, f.sink.records, 1)
	assert.Empty(t, f.sink.records[0].ImagePath)
	assert.Len(t, f.notifier.sent, 1)
	assert.Equal(t, 0, results[2].Tracks[0].Track.ID)
	assert.InDelta(t, 216, results[2].Tracks[0].Speed, 1e-6)
}

func TestProcessFramePersistenceFailureDropsEvent(t *testing.T) {
	frames := map[int][]tracking.Detection{
		0: {vehicle(0, 0, 100, 100)},
		1: {vehicle(20, 0, 120, 100)},
	}
	f := newFixture(t, frames, 10)
	f.sink.err = errors.New("db down")

	results := f.runFrames(t, 2, 30)

	assert.Empty(t, results[1].Violations)
	assert.Empty(t, f.notifier.sent)
}

func TestProcessFrameDetectionErrorIsFatal(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.detector.err = errors.New("model crashed")

	_, err := f.processor.ProcessFrame(context.Background(), frameAt(0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDetection)
}

func TestRunConsumesSource(t *testing.T) {
	frames := map[int][]tracking.Detection{}
	src := &sliceSource{fps: 30}
	for i := 0; i < 4; i++ {
		x := float64(i * 20)
		frames[i] = []tracking.Detection{vehicle(x, 0, x+100, 100)}
		src.frames = append(src.frames, frameAt(i))
	}
	f := newFixture(t, frames, 10)

	stats, err := f.processor.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Frames: 4, Violations: 1, Duplicates: 2}, stats)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.processor.Run(ctx, &sliceSource{fps: 30, frames: []Frame{frameAt(0)}})
	require.NoError(t, err)
	assert.Zero(t, stats.Frames)
}

func TestProcessFrameCleanupRunsAfterTrackWork(t *testing.T) {
	frames := map[int][]tracking.Detection{
		0:  {vehicle(0, 0, 100, 100)},
		11: {vehicle(20, 0, 120, 100)},
	}
	f := newFixture(t, frames, 10)
	f.processor.estimator = speed.NewEstimator(speed.Config{DistanceCalibration: 10, MaxAgeFrames: 5})

	// Eleven frame periods stay under the tracker's one second max age, so
	// frame 11 matches track 0 on the first frame a history sweep runs.
	results := f.runFrames(t, 12, 30)

	require.Len(t, results[11].Tracks, 1)
	assert.Equal(t, 0, results[11].Tracks[0].Track.ID)
	// 20 px / 10 px/m over 11/30 s.
	assert.InDelta(t, 2/(11.0/30)*3.6, results[11].Tracks[0].Speed, 1e-6)
	assert.Equal(t, 1, f.processor.estimator.Tracked())
}

func TestProcessFrameKeepsAdmittedViolationOnCancel(t *testing.T) {
	frames := map[int][]tracking.Detection{
		0: {vehicle(0, 0, 100, 100)},
		1: {vehicle(20, 0, 120, 100)},
	}
	f := newFixture(t, frames, 10)
	f.processor.SetFPS(30)

	_, err := f.processor.ProcessFrame(context.Background(), frameAt(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.recognizer.onRecognize = cancel

	res, err := f.processor.ProcessFrame(ctx, frameAt(1))
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	require.Len(t, f.sink.records, 1)
	assert.Equal(t, "AB1234", f.sink.records[0].LicensePlate)
	assert.Len(t, f.notifier.sent, 1)
}

func TestRunTreatsInterruptedFrameAsStop(t *testing.T) {
	f := newFixture(t, nil, 10)
	detector := &ctxDetector{}
	f.processor.detector = detector

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelAfterSource{
		sliceSource: sliceSource{fps: 30, frames: []Frame{frameAt(0), frameAt(1)}},
		cancel:      cancel,
	}

	stats, err := f.processor.Run(ctx, src)
	require.NoError(t, err)
	assert.Zero(t, stats.Frames)
	assert.Equal(t, 1, detector.calls)
}

func TestRunReturnsDetectionErrorWithoutCancel(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.detector.err = errors.New("model crashed")

	_, err := f.processor.Run(context.Background(), &sliceSource{fps: 30, frames: []Frame{frameAt(0)}})
	assert.ErrorIs(t, err, ErrDetection)
}

func TestNewProcessorRequiresCollaborators(t *testing.T) {
	_, err := NewProcessor(Config{}, Deps{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestCropImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))

	assert.Equal(t, image.Rect(90, 40, 100, 50), cropImage(img, image.Rect(90, 40, 120, 80)).Bounds())
	assert.Nil(t, cropImage(img, image.Rect(200, 200, 220, 220)))
	assert.Nil(t, cropImage(nil, image.Rect(0, 0, 10, 10)))
}

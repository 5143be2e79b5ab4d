package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIndex(t *testing.T) {
	tests := []struct {
		input  string
		device int
		ok     bool
	}{
		{input: "0", device: 0, ok: true},
		{input: " 2 ", device: 2, ok: true},
		{input: "traffic.mp4", ok: false},
		{input: "rtsp://10.0.0.5/stream", ok: false},
		{input: "-1", ok: false},
		{input: "", ok: false},
	}
	for _, tt := range tests {
		device, ok := deviceIndex(tt.input)
		if ok != tt.ok || device != tt.device {
			t.Errorf("deviceIndex(%q) = (%d, %v), want (%d, %v)", tt.input, device, ok, tt.device, tt.ok)
		}
	}
}

func TestNormalizeFPS(t *testing.T) {
	assert.Equal(t, 30.0, normalizeFPS(0))
	assert.Equal(t, 30.0, normalizeFPS(-5))
	assert.Equal(t, 25.0, normalizeFPS(25))
}

func TestDecodeRow(t *testing.T) {
	d := &YOLODetector{
		classes:    map[int]struct{}{2: {}, 7: {}},
		confidence: 0.5,
	}

	// car (class 2) centered in a 200x100 frame, half its size
	row := []float32{0.5, 0.5, 0.5, 0.5, 0.9, 0, 0, 0.8, 0}
	det, ok := d.decodeRow(row, 200, 100)
	require.True(t, ok)
	assert.Equal(t, 2, det.ClassID)
	assert.InDelta(t, 0.8, det.Confidence, 1e-6)
	assert.InDelta(t, 50, det.BBox.X1, 1e-4)
	assert.InDelta(t, 25, det.BBox.Y1, 1e-4)
	assert.InDelta(t, 150, det.BBox.X2, 1e-4)
	assert.InDelta(t, 75, det.BBox.Y2, 1e-4)

	person := []float32{0.5, 0.5, 0.5, 0.5, 0.9, 0.95, 0, 0, 0}
	_, ok = d.decodeRow(person, 200, 100)
	assert.False(t, ok, "class outside the allow list")

	weak := []float32{0.5, 0.5, 0.5, 0.5, 0.9, 0, 0, 0.3, 0}
	_, ok = d.decodeRow(weak, 200, 100)
	assert.False(t, ok, "below confidence")

	_, ok = d.decodeRow([]float32{0.5, 0.5}, 200, 100)
	assert.False(t, ok)
}

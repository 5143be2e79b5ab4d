package plate

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockAnthropic(t *testing.T, reply string, status int) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"type":  "error",
				"error": map[string]any{"type": "invalid_request_error", "message": "bad"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       DefaultModel,
			"stop_reason": "end_turn",
			"content": []map[string]any{
				{"type": "text", "text": reply},
			},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 3},
		})
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func testCrop(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestClaudeRecognizer(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr error
	}{
		{name: "plate", reply: "ab-1234", want: "AB1234"},
		{name: "none", reply: "NONE", wantErr: ErrNoPlate},
		{name: "too short", reply: "A1", wantErr: ErrNoPlate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, calls := newMockAnthropic(t, tt.reply, http.StatusOK)
			r := NewClaudeRecognizer(ClaudeConfig{APIKey: "test", BaseURL: server.URL, MinLength: 4, MaxLength: 10}, zerolog.Nop())

			got, err := r.Recognize(context.Background(), testCrop(64, 32))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, 1, *calls)
		})
	}
}

func TestClaudeRecognizerSkipsSmallCrops(t *testing.T) {
	server, calls := newMockAnthropic(t, "AB1234", http.StatusOK)
	r := NewClaudeRecognizer(ClaudeConfig{APIKey: "test", BaseURL: server.URL, MinSize: image.Pt(60, 20)}, zerolog.Nop())

	_, err := r.Recognize(context.Background(), testCrop(30, 10))
	assert.ErrorIs(t, err, ErrNoPlate)

	_, err = r.Recognize(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoPlate)
	assert.Zero(t, *calls)
}

func TestClaudeRecognizerAPIError(t *testing.T) {
	server, _ := newMockAnthropic(t, "", http.StatusBadRequest)
	r := NewClaudeRecognizer(ClaudeConfig{APIKey: "test", BaseURL: server.URL}, zerolog.Nop())

	_, err := r.Recognize(context.Background(), testCrop(64, 32))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoPlate))
}

package video

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"speedtrap-service/internal/geom"
	"speedtrap-service/internal/tracking"
)

const nmsThreshold = 0.4

type DetectorConfig struct {
	WeightsPath string
	ConfigPath  string
	// Classes limits output to these COCO class ids. Empty keeps all.
	Classes    []int
	Confidence float64
	InputSize  int
}

// YOLODetector runs a Darknet YOLO network through the OpenCV DNN module.
type YOLODetector struct {
	net        gocv.Net
	outputs    []string
	classes    map[int]struct{}
	confidence float32
	inputSize  int
	mu         sync.Mutex
}

func NewYOLODetector(cfg DetectorConfig) (*YOLODetector, error) {
	net := gocv.ReadNet(cfg.WeightsPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO network from %s and %s", cfg.WeightsPath, cfg.ConfigPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	var outputs []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		outputs = append(outputs, layer.GetName())
		layer.Close()
	}

	classes := make(map[int]struct{}, len(cfg.Classes))
	for _, c := range cfg.Classes {
		classes[c] = struct{}{}
	}

	inputSize := cfg.InputSize
	if inputSize <= 0 {
		inputSize = 416
	}

	return &YOLODetector{
		net:        net,
		outputs:    outputs,
		classes:    classes,
		confidence: float32(cfg.Confidence),
		inputSize:  inputSize,
	}, nil
}

func (d *YOLODetector) Detect(ctx context.Context, img image.Image) ([]tracking.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer frame.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	outputs := d.net.ForwardLayers(d.outputs)
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	width, height := frame.Cols(), frame.Rows()

	var (
		rects  []image.Rectangle
		scores []float32
		found  []tracking.Detection
	)
	for _, out := range outputs {
		cols := out.Cols()
		row := make([]float32, cols)
		for i := 0; i < out.Rows(); i++ {
			for j := 0; j < cols; j++ {
				row[j] = out.GetFloatAt(i, j)
			}
			det, ok := d.decodeRow(row, width, height)
			if !ok {
				continue
			}
			rects = append(rects, det.BBox.Rect())
			scores = append(scores, float32(det.Confidence))
			found = append(found, det)
		}
	}

	if len(found) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(rects, scores, d.confidence, nmsThreshold)
	detections := make([]tracking.Detection, 0, len(keep))
	for _, idx := range keep {
		detections = append(detections, found[idx])
	}
	return detections, nil
}

// decodeRow turns one Darknet output row (cx, cy, w, h, objectness, class
// scores...) in normalized coordinates into a pixel detection.
func (d *YOLODetector) decodeRow(row []float32, width, height int) (tracking.Detection, bool) {
	if len(row) <= 5 {
		return tracking.Detection{}, false
	}

	classID, best := 0, float32(0)
	for i, s := range row[5:] {
		if s > best {
			classID, best = i, s
		}
	}
	if best < d.confidence {
		return tracking.Detection{}, false
	}
	if len(d.classes) > 0 {
		if _, ok := d.classes[classID]; !ok {
			return tracking.Detection{}, false
		}
	}

	cx, cy := float64(row[0])*float64(width), float64(row[1])*float64(height)
	w, h := float64(row[2])*float64(width), float64(row[3])*float64(height)
	box := geom.NewBBox(cx-w/2, cy-h/2, cx+w/2, cy+h/2)
	if !box.Valid() {
		return tracking.Detection{}, false
	}

	return tracking.Detection{
		BBox:       box,
		Confidence: float64(best),
		ClassID:    classID,
	}, true
}

func (d *YOLODetector) Close() error {
	return d.net.Close()
}

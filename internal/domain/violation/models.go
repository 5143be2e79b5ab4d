package violation

import (
	"time"

	"github.com/google/uuid"

	"speedtrap-service/internal/geom"
)

// Details carries the tracking context a violation was raised from.
type Details struct {
	RunID       string    `json:"run_id,omitempty"`
	TrackID     int       `json:"track_id"`
	ClassID     int       `json:"class_id"`
	Confidence  float64   `json:"confidence"`
	FrameNumber int       `json:"frame_number"`
	Bucket      int64     `json:"bucket"`
	BBox        geom.BBox `json:"bbox"`
}

// Record is a speed violation as emitted by the frame processor. ID is empty
// until the store assigns one.
type Record struct {
	ID           uuid.UUID `json:"id"`
	LicensePlate string    `json:"license_plate"`
	Speed        float64   `json:"speed"`
	SpeedLimit   float64   `json:"speed_limit"`
	Timestamp    time.Time `json:"timestamp"`
	Location     string    `json:"location"`
	ImagePath    string    `json:"image_path,omitempty"`
	Details      Details   `json:"details"`
}

// OverBy returns how far above the limit the recorded speed was.
func (r Record) OverBy() float64 {
	return r.Speed - r.SpeedLimit
}

type Filter struct {
	Plate  *string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type Offender struct {
	LicensePlate string `json:"license_plate"`
	Count        int64  `json:"count"`
}

type Stats struct {
	Total        int64      `json:"total"`
	UniquePlates int64      `json:"unique_plates"`
	AverageSpeed float64    `json:"average_speed"`
	AverageOver  float64    `json:"average_over_limit"`
	MaxSpeed     float64    `json:"max_speed"`
	TopOffenders []Offender `json:"top_offenders"`
}

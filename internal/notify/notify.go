package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"speedtrap-service/internal/domain/violation"
)

type Notifier interface {
	Notify(ctx context.Context, v violation.Record) error
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, v violation.Record) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Message renders the single-line violation message used by the log file
// and as the Slack fallback text.
func Message(v violation.Record) string {
	return fmt.Sprintf("VIOLATION: %s - License Plate: %s, Speed: %.1f km/h, Limit: %.1f km/h, Location: %s",
		v.Timestamp.Format(time.DateTime),
		v.LicensePlate,
		v.Speed,
		v.SpeedLimit,
		v.Location,
	)
}

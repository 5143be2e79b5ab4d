package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"speedtrap-service/internal/domain/violation"
)

// LogNotifier writes every violation to the service log and appends it to a
// plain-text notification log.
type LogNotifier struct {
	path string
	log  zerolog.Logger
	mu   sync.Mutex
}

func NewLogNotifier(path string, log zerolog.Logger) (*LogNotifier, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create notification log dir: %w", err)
		}
	}
	return &LogNotifier{path: path, log: log}, nil
}

func (n *LogNotifier) Notify(_ context.Context, v violation.Record) error {
	msg := Message(v)

	n.log.Info().
		Str("plate", v.LicensePlate).
		Float64("speed", v.Speed).
		Float64("speed_limit", v.SpeedLimit).
		Str("location", v.Location).
		Msg(msg)

	if n.path == "" {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	f, err := os.OpenFile(n.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open notification log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, msg); err != nil {
		return fmt.Errorf("write notification log: %w", err)
	}
	return nil
}

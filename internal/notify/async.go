package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"speedtrap-service/internal/domain/violation"
)

const drainTimeout = 10 * time.Second

// Async queues violations for a background goroutine so the frame loop never
// waits on Slack or SMTP. When the queue is full the violation is dropped.
type Async struct {
	next  Notifier
	queue chan violation.Record
	log   zerolog.Logger
}

func NewAsync(next Notifier, size int, log zerolog.Logger) *Async {
	if size <= 0 {
		size = 1
	}
	return &Async{
		next:  next,
		queue: make(chan violation.Record, size),
		log:   log,
	}
}

func (a *Async) Notify(_ context.Context, v violation.Record) error {
	select {
	case a.queue <- v:
	default:
		a.log.Warn().
			Str("plate", v.LicensePlate).
			Int("queue_size", cap(a.queue)).
			Msg("notification queue full, dropping violation")
	}
	return nil
}

// Run delivers queued violations until ctx is cancelled, then flushes what is
// still buffered within drainTimeout.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case v := <-a.queue:
			a.deliver(ctx, v)
		case <-ctx.Done():
			a.drain()
			return nil
		}
	}
}

func (a *Async) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case v := <-a.queue:
			a.deliver(ctx, v)
		default:
			return
		}
	}
}

func (a *Async) deliver(ctx context.Context, v violation.Record) {
	if err := a.next.Notify(ctx, v); err != nil {
		a.log.Error().
			Err(err).
			Str("plate", v.LicensePlate).
			Msg("failed to send notification")
	}
}

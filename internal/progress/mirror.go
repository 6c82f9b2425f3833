package progress

import (
	"context"

	"github.com/rs/zerolog"
)

// Sink persists events for another process to read.
type Sink interface {
	RecordActivity(Event) error
}

// Mirror copies every event published on the bus into the sink until the
// context is canceled. Runs in its own goroutine; a failed write is logged
// and the next event tried anyway.
func Mirror(ctx context.Context, bus *Bus, sink Sink, log zerolog.Logger) {
	events, cancel := bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sink.RecordActivity(ev); err != nil {
				log.Warn().Err(err).Msg("progress mirror write failed")
			}
		}
	}
}

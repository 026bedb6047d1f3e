package progress

import "context"

// Sink consumes batches of Events for external persistence or metrics,
// independent of the per-subscriber live fan-out.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

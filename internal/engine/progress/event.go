// Package progress publishes an ordered stream of typed Job events to any
// number of subscribers without blocking worker progress, per §4.8.
package progress

import (
	"errors"
	"time"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

// Type is the discriminator for an Event.
type Type string

// Supported event types.
const (
	TypeInitialStatus      Type = "initial_status"
	TypeStatusUpdate       Type = "status_update"
	TypePageComplete       Type = "page_complete"
	TypeJobCompleted       Type = "job_completed"
	TypeJobFailed          Type = "job_failed"
	TypeSubscriberOverflow Type = "subscriber_overflow"
)

// coalescible event types may be dropped (drop-oldest) under backpressure;
// every other type is critical and triggers drop-subscriber on overflow.
func (t Type) coalescible() bool { return t == TypeStatusUpdate }

// Event is the fan-out payload delivered to subscribers.
type Event struct {
	Type     Type
	JobID    string
	TS       time.Time
	Snapshot *engine.JobSnapshot
	Page     *engine.PageResult
	Result   *engine.CrawlResult // populated on job_completed/job_failed for the Result Store
	Note     string
}

// Validate performs coarse structural validation before an event enters
// the Hub's buffer.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("progress: job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("progress: timestamp is required")
	}
	switch e.Type {
	case TypeInitialStatus, TypeStatusUpdate, TypeJobCompleted, TypeJobFailed:
		if e.Snapshot == nil {
			return errors.New("progress: snapshot required for " + string(e.Type))
		}
	case TypePageComplete:
		if e.Page == nil {
			return errors.New("progress: page required for page_complete")
		}
	case TypeSubscriberOverflow:
	default:
		return errors.New("progress: unknown event type " + string(e.Type))
	}
	return nil
}

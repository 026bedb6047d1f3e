package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

// Config controls the Hub's sink batching and per-subscriber buffering.
type Config struct {
	SubscriberBuffer int           // per-subscriber channel capacity, default 256
	MaxBatchEvents   int           // sink flush threshold, default 500
	MaxBatchWait     time.Duration // sink flush interval, default 500ms
	SinkTimeout      time.Duration // per-sink Consume deadline, default 10s
	Logger           *zap.Logger
}

const (
	defaultSubscriberBuffer = 256
	defaultMaxBatchEvents   = 500
	defaultMaxBatchWait     = 500 * time.Millisecond
	defaultSinkTimeout      = 10 * time.Second
)

// subscriber is a single live observer of a Job's event stream.
type subscriber struct {
	id string
	ch chan Event
}

// Hub fans out Events to live subscribers (bounded, non-blocking toward
// workers) and batches the same stream into any number of Sinks for
// durable persistence or metrics. It is safe for concurrent use.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}

	mu          sync.Mutex
	subscribers map[string]*subscriber
	nextID      int

	closeOnce sync.Once
}

// NewHub starts the Hub's background batching goroutine. The Hub accepts
// events immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		logger:      logger,
		events:      make(chan Event, cfg.SubscriberBuffer*4),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		subscribers: make(map[string]*subscriber),
	}
	go h.run()
	return h
}

// Subscription is a live handle returned by Subscribe.
type Subscription struct {
	ID     string
	Events <-chan Event
}

// Subscribe registers a new live subscriber and immediately delivers an
// initial_status event built from snapshot, per §4.8.
func (h *Hub) Subscribe(jobID string, snapshot *engine.JobSnapshot, now time.Time) *Subscription {
	h.mu.Lock()
	h.nextID++
	id := fmt.Sprintf("sub-%d", h.nextID)
	sub := &subscriber{id: id, ch: make(chan Event, h.cfg.SubscriberBuffer)}
	h.subscribers[id] = sub
	h.mu.Unlock()

	sub.ch <- Event{Type: TypeInitialStatus, JobID: jobID, TS: now, Snapshot: snapshot}
	return &Subscription{ID: id, Events: sub.ch}
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Emit enqueues an Event for both live fan-out and sink batching.
// Coalescible events (status_update) are dropped on intake buffer
// overflow rather than block the caller, since a later status_update
// supersedes them; live fan-out still applies its own per-subscriber
// policy in deliver. Every other type is critical per §4.8 and must be
// delivered, so Emit blocks the caller until the intake buffer has room
// or the Hub is stopping.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	if evt.Type.coalescible() {
		select {
		case h.events <- evt:
		default:
			h.logger.Warn("progress hub buffer full; event dropped", zap.String("type", string(evt.Type)))
		}
		return
	}
	select {
	case h.events <- evt:
	case <-h.stopCh:
		h.logger.Warn("progress hub stopped; critical event dropped", zap.String("type", string(evt.Type)))
	}
}

// Close drains remaining events, flushes sinks, and closes every live
// subscriber channel.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() { close(h.stopCh) })
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	timerActive := false

	flushAndClear := func() {
		if len(batch) > 0 {
			h.flushSinks(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case evt := <-h.events:
			h.deliver(evt)
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				flushAndClear()
				continue
			}
			if !timerActive {
				timer.Reset(h.cfg.MaxBatchWait)
				timerActive = true
			}
		case <-timer.C:
			timerActive = false
			flushAndClear()
		case <-h.stopCh:
			if timerActive {
				timer.Stop()
			}
			h.drainRemaining(&batch)
			flushAndClear()
			h.closeSinks()
			h.closeAllSubscribers()
			return
		}
	}
}

func (h *Hub) drainRemaining(batch *[]Event) {
	for {
		select {
		case evt := <-h.events:
			h.deliver(evt)
			*batch = append(*batch, evt)
		default:
			return
		}
	}
}

// deliver applies the per-subscriber backpressure policy of §4.8: drop
// the oldest buffered event for coalescible types, drop the subscriber
// outright (emitting subscriber_overflow) for critical types.
func (h *Hub) deliver(evt Event) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.deliverOne(sub, evt)
	}
}

func (h *Hub) deliverOne(sub *subscriber, evt Event) {
	select {
	case sub.ch <- evt:
		return
	default:
	}

	if evt.Type.coalescible() {
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- evt:
		default:
		}
		return
	}

	h.dropSubscriber(sub, evt.JobID)
}

func (h *Hub) dropSubscriber(sub *subscriber, jobID string) {
	h.mu.Lock()
	_, stillPresent := h.subscribers[sub.id]
	if stillPresent {
		delete(h.subscribers, sub.id)
	}
	h.mu.Unlock()
	if !stillPresent {
		return
	}
	// Make room for the overflow notice by discarding the oldest buffered
	// event; the subscriber is being dropped either way.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- Event{Type: TypeSubscriberOverflow, JobID: jobID, TS: time.Now(), Note: "subscriber buffer overflow"}:
	default:
	}
	close(sub.ch)
}

func (h *Hub) closeAllSubscribers() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]*subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
}

func (h *Hub) flushSinks(batch []Event) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, copyBatch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := context.Background()
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

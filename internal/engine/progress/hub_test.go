package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

func TestSubscribeDeliversInitialStatus(t *testing.T) {
	h := NewHub(Config{})
	defer h.Close(context.Background())

	sub := h.Subscribe("job-1", &engine.JobSnapshot{JobID: "job-1"}, time.Now())
	evt := <-sub.Events
	require.Equal(t, TypeInitialStatus, evt.Type)
}

func TestEmitDeliversPageCompleteToSubscriber(t *testing.T) {
	h := NewHub(Config{})
	defer h.Close(context.Background())

	sub := h.Subscribe("job-1", &engine.JobSnapshot{JobID: "job-1"}, time.Now())
	<-sub.Events // initial_status

	h.Emit(Event{Type: TypePageComplete, JobID: "job-1", TS: time.Now(), Page: &engine.PageResult{URL: "https://a.test/"}})

	evt := <-sub.Events
	require.Equal(t, TypePageComplete, evt.Type)
	require.Equal(t, "https://a.test/", evt.Page.URL)
}

func TestStatusUpdateCoalescesUnderBackpressure(t *testing.T) {
	h := NewHub(Config{SubscriberBuffer: 2})
	defer h.Close(context.Background())

	sub := h.Subscribe("job-1", &engine.JobSnapshot{JobID: "job-1"}, time.Now())
	<-sub.Events // initial_status

	for i := 0; i < 10; i++ {
		h.Emit(Event{Type: TypeStatusUpdate, JobID: "job-1", TS: time.Now(), Snapshot: &engine.JobSnapshot{URLsProcessed: i}})
	}
	time.Sleep(50 * time.Millisecond)

	// The subscriber must still be registered (coalescing, not dropped).
	h.mu.Lock()
	_, ok := h.subscribers[sub.ID]
	h.mu.Unlock()
	require.True(t, ok)
}

func TestCriticalOverflowDropsSubscriberWithOverflowEvent(t *testing.T) {
	h := NewHub(Config{SubscriberBuffer: 1})
	defer h.Close(context.Background())

	sub := h.Subscribe("job-1", &engine.JobSnapshot{JobID: "job-1"}, time.Now())
	<-sub.Events // initial_status, buffer now empty

	// Fill the buffer then force two critical sends without draining.
	h.Emit(Event{Type: TypePageComplete, JobID: "job-1", TS: time.Now(), Page: &engine.PageResult{URL: "https://a.test/1"}})
	h.Emit(Event{Type: TypePageComplete, JobID: "job-1", TS: time.Now(), Page: &engine.PageResult{URL: "https://a.test/2"}})
	time.Sleep(50 * time.Millisecond)

	h.mu.Lock()
	_, stillSubscribed := h.subscribers[sub.ID]
	h.mu.Unlock()
	require.False(t, stillSubscribed)
}

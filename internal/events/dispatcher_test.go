package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poppins-pipeline/internal/common/logger"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []Event
	err  error
}

func (h *recordingHandler) Handle(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, ev)
	return h.err
}

func (h *recordingHandler) events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.seen...)
}

func TestDispatcher_DispatchRoutesByCollection(t *testing.T) {
	d := NewDispatcher(logger.NewTestLogger(t), nil)
	emails := &recordingHandler{}
	children := &recordingHandler{}
	d.Register("emailQueue", emails)
	d.Register("tenants/*/children", children)

	d.Dispatch(context.Background(), Event{Collection: "emailQueue", ID: "e1"})
	d.Dispatch(context.Background(), Event{Collection: "tenants/t1/children", ID: "c1"})
	d.Dispatch(context.Background(), Event{Collection: "tenants/t2/children", ID: "c2"})
	d.Dispatch(context.Background(), Event{Collection: "tenants/t1/schedules", ID: "s1"})

	require.Len(t, emails.events(), 1)
	assert.Equal(t, "e1", emails.events()[0].ID)

	got := children.events()
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "c2", got[1].ID)
}

func TestDispatcher_HandlerErrorDoesNotStopOthers(t *testing.T) {
	d := NewDispatcher(logger.NewTestLogger(t), nil)
	failing := &recordingHandler{err: assert.AnError}
	healthy := &recordingHandler{}
	d.Register("messages", failing)
	d.Register("messages", healthy)

	d.Dispatch(context.Background(), Event{Collection: "messages", ID: "m1"})

	assert.Len(t, failing.events(), 1)
	assert.Len(t, healthy.events(), 1)
}

func TestDispatcher_HandlerPanicIsContained(t *testing.T) {
	d := NewDispatcher(logger.NewTestLogger(t), nil)
	d.Register("messages", HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	}))

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), Event{Collection: "messages", ID: "m1"})
	})
}

func TestDispatcher_RunDrainsFeedUntilCancelled(t *testing.T) {
	d := NewDispatcher(logger.NewTestLogger(t), nil)
	h := &recordingHandler{}
	d.Register("emailQueue", h)

	feed := make(chan Event, 4)
	feed <- Event{Collection: "emailQueue", ID: "e1"}
	feed <- Event{Collection: "emailQueue", ID: "e2"}
	close(feed)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), feed)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on closed feed")
	}
	assert.Len(t, h.events(), 2)
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern    string
		collection string
		want       bool
	}{
		{"emailQueue", "emailQueue", true},
		{"emailQueue", "notifications", false},
		{"tenants/*/children", "tenants/t1/children", true},
		{"tenants/*/children", "tenants/t1/schedules", false},
		{"tenants/*/children", "tenants/t1/nested/children", false},
		{"tenants/*/children", "children", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, matchPattern(tt.pattern, tt.collection), "%s vs %s", tt.pattern, tt.collection)
	}
}

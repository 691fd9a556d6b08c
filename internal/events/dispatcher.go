// internal/events/dispatcher.go
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"poppins-pipeline/internal/common/logger"
	"poppins-pipeline/internal/common/observability"
)

// Dispatcher is the explicit dispatch table mapping collection patterns
// to handlers. Patterns are slash-separated collection paths where "*"
// matches exactly one segment, e.g. "tenants/*/children".
type Dispatcher struct {
	mu     sync.RWMutex
	routes []route
	logger logger.Logger
	obs    *observability.Observability
}

type route struct {
	pattern string
	handler Handler
}

func NewDispatcher(log logger.Logger, obs *observability.Observability) *Dispatcher {
	return &Dispatcher{
		logger: log,
		obs:    obs,
	}
}

// Register binds a handler to a collection pattern.
func (d *Dispatcher) Register(pattern string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, route{pattern: pattern, handler: h})
}

// Run consumes the feed until the context is cancelled. Events for
// different documents are handled in parallel with no ordering
// guarantee; a panicking or failing handler never stops the loop.
func (d *Dispatcher) Run(ctx context.Context, feed <-chan Event) {
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case ev, ok := <-feed:
			if !ok {
				wg.Wait()
				return
			}
			wg.Add(1)
			go func(ev Event) {
				defer wg.Done()
				d.Dispatch(ctx, ev)
			}(ev)
		}
	}
}

// Dispatch runs every handler whose pattern matches the event's
// collection. Failures are contained here: logged, counted, swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.RLock()
	routes := d.routes
	d.mu.RUnlock()

	matched := false
	for _, r := range routes {
		if !matchPattern(r.pattern, ev.Collection) {
			continue
		}
		matched = true
		d.invoke(ctx, r.handler, ev)
	}
	if !matched {
		d.logger.Debug("no handler for event", map[string]interface{}{
			"collection": ev.Collection,
			"docId":      ev.ID,
		})
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, ev Event) {
	start := time.Now()
	status := "ok"

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			d.logger.Error("handler panicked", map[string]interface{}{
				"collection": ev.Collection,
				"docId":      ev.ID,
				"panic":      r,
			})
		}
		d.obs.RecordEventProcessed(ctx, ev.Collection, status)
		d.obs.RecordEventDuration(ctx, time.Since(start), ev.Collection, status)
	}()

	if err := h.Handle(ctx, ev); err != nil {
		status = "error"
		d.logger.WithError(err).Error("handler failed", map[string]interface{}{
			"collection": ev.Collection,
			"docId":      ev.ID,
		})
	}
}

func matchPattern(pattern, collection string) bool {
	if pattern == collection {
		return true
	}
	pp := strings.Split(pattern, "/")
	cp := strings.Split(collection, "/")
	if len(pp) != len(cp) {
		return false
	}
	for i := range pp {
		if pp[i] != "*" && pp[i] != cp[i] {
			return false
		}
	}
	return true
}

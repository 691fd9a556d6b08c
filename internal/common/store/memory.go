// internal/common/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"

	"poppins-pipeline/internal/events"
)

// Memory is an in-process Store used by tests and local runs. Writes
// are serialized by a single mutex, which makes UpdateIf and BatchWrite
// trivially atomic.
type Memory struct {
	mu        sync.Mutex
	docs      map[string]map[string][]byte // collection -> id -> doc
	feed      chan events.Event
	published []events.Event
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]map[string][]byte),
		feed: make(chan events.Event, 256),
	}
}

func (m *Memory) Get(_ context.Context, collection, id string, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[collection][id]
	if !ok {
		return ErrNotFound
	}
	return Record{ID: id, Data: data}.Decode(out)
}

func (m *Memory) Set(_ context.Context, collection, id string, doc interface{}) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(collection, id, data)
	return nil
}

func (m *Memory) Create(ctx context.Context, collection, id string, doc interface{}) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.put(collection, id, data)
	m.mu.Unlock()
	return m.Publish(ctx, events.Event{Collection: collection, ID: id, Doc: data})
}

func (m *Memory) Patch(_ context.Context, collection, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[collection][id]
	if !ok {
		return ErrNotFound
	}
	merged, err := applyPatch(data, fields)
	if err != nil {
		return err
	}
	m.put(collection, id, merged)
	return nil
}

func (m *Memory) UpdateIf(_ context.Context, collection, id, field string, expect interface{}, patch map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[collection][id]
	if !ok {
		return false, ErrNotFound
	}
	if !matchFilters(data, []Filter{Where(field, OpEqual, expect)}) {
		return false, nil
	}
	merged, err := applyPatch(data, patch)
	if err != nil {
		return false, err
	}
	m.put(collection, id, merged)
	return true, nil
}

func (m *Memory) Query(_ context.Context, collection string, filters []Filter, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.docs[collection]))
	for id := range m.docs[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Record
	for _, id := range ids {
		data := m.docs[collection][id]
		if !matchFilters(data, filters) {
			continue
		}
		out = append(out, Record{ID: id, Data: append([]byte(nil), data...)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListIDs(_ context.Context, collection string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.docs[collection]))
	for id := range m.docs[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Exists(_ context.Context, collection, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[collection][id]
	return ok, nil
}

func (m *Memory) BatchWrite(_ context.Context, ops []WriteOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Stage every mutation first so the batch is all-or-nothing.
	staged := make([][]byte, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case WriteSet:
			data, err := marshalDoc(op.Doc)
			if err != nil {
				return err
			}
			staged[i] = data
		case WritePatch:
			current, ok := m.docs[op.Collection][op.ID]
			if !ok {
				return ErrNotFound
			}
			merged, err := applyPatch(current, op.Patch)
			if err != nil {
				return err
			}
			staged[i] = merged
		}
	}

	for i, op := range ops {
		switch op.Kind {
		case WriteSet, WritePatch:
			m.put(op.Collection, op.ID, staged[i])
		case WriteDelete:
			delete(m.docs[op.Collection], op.ID)
		}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[collection], id)
	return nil
}

func (m *Memory) Publish(_ context.Context, ev events.Event) error {
	m.mu.Lock()
	m.published = append(m.published, ev)
	m.mu.Unlock()
	select {
	case m.feed <- ev:
	default:
	}
	return nil
}

func (m *Memory) Events(_ context.Context) (<-chan events.Event, error) {
	return m.feed, nil
}

// Published returns every event emitted so far, for test assertions.
func (m *Memory) Published() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event(nil), m.published...)
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) put(collection, id string, data []byte) {
	col, ok := m.docs[collection]
	if !ok {
		col = make(map[string][]byte)
		m.docs[collection] = col
	}
	col[id] = data
}

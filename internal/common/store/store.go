// internal/common/store/store.go

// Package store abstracts the hierarchical document store the pipeline
// runs against. Collections are slash-separated paths (subcollections
// like "tenants/<id>/children" included); documents are JSON objects.
// Create emits a create event into the feed consumed by the event
// dispatcher; everything else is a plain mutation.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"poppins-pipeline/internal/events"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: record not found")

// Op is a query filter operator.
type Op string

const (
	OpEqual         Op = "=="
	OpLess          Op = "<"
	OpArrayContains Op = "array-contains"
)

// Filter restricts Query results on a single top-level field.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Where builds a Filter.
func Where(field string, op Op, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Record is one query result.
type Record struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the record body into out.
func (r Record) Decode(out interface{}) error {
	return json.Unmarshal(r.Data, out)
}

// WriteKind selects the operation of one BatchWrite element.
type WriteKind int

const (
	WriteSet WriteKind = iota
	WritePatch
	WriteDelete
)

// WriteOp is one element of an atomic batch.
type WriteOp struct {
	Kind       WriteKind
	Collection string
	ID         string
	Doc        interface{}            // WriteSet
	Patch      map[string]interface{} // WritePatch; nil values remove the field
}

// Store is the record-store contract every backend implements.
//
// UpdateIf is the atomic compare-and-set used for status/flag
// transitions: the patch is applied only if the named field currently
// equals expect, atomically with respect to the single record.
// BatchWrite commits all ops or none.
type Store interface {
	Get(ctx context.Context, collection, id string, out interface{}) error
	Set(ctx context.Context, collection, id string, doc interface{}) error
	Create(ctx context.Context, collection, id string, doc interface{}) error
	Patch(ctx context.Context, collection, id string, fields map[string]interface{}) error
	UpdateIf(ctx context.Context, collection, id, field string, expect interface{}, patch map[string]interface{}) (bool, error)
	Query(ctx context.Context, collection string, filters []Filter, limit int) ([]Record, error)
	ListIDs(ctx context.Context, collection string) ([]string, error)
	Exists(ctx context.Context, collection, id string) (bool, error)
	BatchWrite(ctx context.Context, ops []WriteOp) error
	Delete(ctx context.Context, collection, id string) error

	// Publish re-emits an event into the create feed. Create calls it
	// implicitly; the retry sweep uses it to re-trigger dispatch.
	Publish(ctx context.Context, ev events.Event) error

	// Events returns the create-event feed. Delivery is at-least-once.
	Events(ctx context.Context) (<-chan events.Event, error)

	Close() error
}

func marshalDoc(doc interface{}) (json.RawMessage, error) {
	if raw, ok := doc.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(doc)
}

// applyPatch merges fields into a JSON document. A nil value removes
// the field.
func applyPatch(data []byte, fields map[string]interface{}) ([]byte, error) {
	doc := map[string]interface{}{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	return json.Marshal(doc)
}

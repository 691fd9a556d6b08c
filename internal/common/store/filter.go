// internal/common/store/filter.go
package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// matchFilters evaluates filters against a decoded document. Backends
// without native query support (memory, redis) filter in Go; the
// scan cost is bounded by the collection size.
func matchFilters(data []byte, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	for _, f := range filters {
		if !matchFilter(doc, f) {
			return false
		}
	}
	return true
}

func matchFilter(doc map[string]interface{}, f Filter) bool {
	got, present := doc[f.Field]
	switch f.Op {
	case OpEqual:
		if !present {
			// Missing booleans compare equal to false, matching how
			// producers omit zero-valued guard flags.
			if b, ok := f.Value.(bool); ok {
				return !b
			}
			return false
		}
		return scalarKey(got) == scalarKey(f.Value)
	case OpLess:
		if !present {
			return false
		}
		return lessThan(got, f.Value)
	case OpArrayContains:
		arr, ok := got.([]interface{})
		if !ok {
			return false
		}
		want := scalarKey(f.Value)
		for _, el := range arr {
			if scalarKey(el) == want {
				return true
			}
		}
		return false
	}
	return false
}

// scalarKey normalizes scalars for comparison across JSON decoding
// (which yields float64 for every number) and native Go values.
func scalarKey(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return fmt.Sprintf("%g", x)
	case float32:
		return fmt.Sprintf("%g", float64(x))
	case int:
		return fmt.Sprintf("%g", float64(x))
	case int32:
		return fmt.Sprintf("%g", float64(x))
	case int64:
		return fmt.Sprintf("%g", float64(x))
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func lessThan(got, want interface{}) bool {
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	if gok && wok {
		return gf < wf
	}
	gt, gok2 := toTime(got)
	wt, wok2 := toTime(want)
	if gok2 && wok2 {
		return gt.Before(wt)
	}
	return fmt.Sprintf("%v", got) < fmt.Sprintf("%v", want)
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Package models defines core data structures for documents, chunks, and retrieval results.
package models

import "fmt"

// IndexedDocument is a document held by the vector index: content plus its
// embedding. Documents are immutable once added; they change only through
// removal or a full clear.
type IndexedDocument struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Embedding []float32 `json:"embedding"`
}

// Metadata is a flat bag of primitive values attached to a document.
// Only strings, bools, and numbers are allowed so that values survive
// save/load cycles without shape drift. JSON decoding turns every number
// into float64; Normalize applies the same rule to in-memory values so
// filter comparisons behave identically before and after a reload.
type Metadata map[string]any

// Normalize returns a copy with all numeric values converted to float64.
// Unsupported value kinds are reported as an error naming the offending key.
func (m Metadata) Normalize() (Metadata, error) {
	if m == nil {
		return nil, nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string, bool, float64:
			out[k] = val
		case int:
			out[k] = float64(val)
		case int32:
			out[k] = float64(val)
		case int64:
			out[k] = float64(val)
		case float32:
			out[k] = float64(val)
		default:
			return nil, fmt.Errorf("metadata key %q has unsupported type %T", k, v)
		}
	}
	return out, nil
}

// Matches reports whether every key/value pair in filter is present in m
// with an equal value. An empty filter matches everything.
func (m Metadata) Matches(filter Metadata) bool {
	for k, want := range filter {
		got, ok := m[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

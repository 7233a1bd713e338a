package storage

import (
	"encoding/json"
	"fmt"
)

// TypedStore wraps Store with JSON marshaling for one document type
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a typed wrapper for the given kind
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{
		store: store,
		kind:  kind,
	}
}

// Get retrieves and unmarshals the document for an ID.
// Returns the zero value if not found.
func (s *TypedStore[T]) Get(id string) (value T, err error) {
	payload, err := s.store.Get(s.kind, id)
	if err != nil || payload == nil {
		return value, err
	}

	if err := json.Unmarshal(payload, &value); err != nil {
		return value, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
	}

	return value, nil
}

// Set marshals and stores the document for an ID
func (s *TypedStore[T]) Set(id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", s.kind, id, err)
	}

	return s.store.Set(s.kind, id, payload)
}

// Clear removes every document of this kind
func (s *TypedStore[T]) Clear() error {
	return s.store.Clear(s.kind)
}

// GetAll retrieves all documents of this kind
func (s *TypedStore[T]) GetAll() (map[string]T, error) {
	payloads, err := s.store.GetAll(s.kind)
	if err != nil {
		return nil, err
	}

	values := make(map[string]T, len(payloads))
	for id, payload := range payloads {
		var value T
		if err := json.Unmarshal(payload, &value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
		}
		values[id] = value
	}

	return values, nil
}

// Update applies modify to the current document.
// A missing ID hands modify the zero value.
func (s *TypedStore[T]) Update(id string, modify func(current T) T) error {
	current, err := s.Get(id)
	if err != nil {
		return err
	}

	return s.Set(id, modify(current))
}

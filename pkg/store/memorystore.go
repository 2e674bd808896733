// Package store implements a simple key-value store used as the compiler's
// id registry.
package store

import (
	"errors"
	"sync"
)

var (
	ErrKeyExists      = errors.New("store: key already exists")
	ErrKeyDoesntExist = errors.New("store: key does not exist")
)

type Store[V any] interface {
	Set(key string, value V) error
	Get(key string) (V, error)
	// Keys returns keys in insertion order.
	Keys() []string
}

type MemStore[V any] struct {
	lock  *sync.Mutex
	store map[string]V
	keys  []string
}

func NewMemStore[V any]() *MemStore[V] {
	return &MemStore[V]{
		lock:  new(sync.Mutex),
		store: make(map[string]V),
	}
}

// Set is used to set a value to a key.
func (m *MemStore[V]) Set(key string, value V) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; ok {
		return ErrKeyExists
	}
	m.store[key] = value
	m.keys = append(m.keys, key)
	return nil
}

// Get is used to get a value from a key.
func (m *MemStore[V]) Get(key string) (V, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	v, ok := m.store[key]
	if !ok {
		var zero V
		return zero, ErrKeyDoesntExist
	}
	return v, nil
}

// Keys returns keys in insertion order.
func (m *MemStore[V]) Keys() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string(nil), m.keys...)
}

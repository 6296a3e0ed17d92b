// Package registry keeps the live entries of a keyed set of in-flight
// operations. Lookups are lock free; inserts and removals are serialized so
// that check-then-act sequences stay atomic.
package registry

import (
	"sync"

	"github.com/alphadose/haxmap"
)

type Registry[T comparable] interface {
	Get(name string) (T, bool)
	// Add stores value under name unless an entry exists already, in which
	// case the existing entry is returned with false.
	Add(name string, value T) (T, bool)
	// Take removes and returns the entry for name.
	Take(name string) (T, bool)
	// Remove deletes the entry for name only while it is still value.
	Remove(name string, value T) bool
	// Drain removes every entry and returns them.
	Drain() []T
	Len() int
}

type registry[T comparable] struct {
	mu     sync.Mutex
	values *haxmap.Map[string, T]
}

func New[T comparable]() Registry[T] {
	return &registry[T]{
		values: haxmap.New[string, T](),
	}
}

func (r *registry[T]) Get(name string) (T, bool) {
	return r.values.Get(name)
}

func (r *registry[T]) Add(name string, value T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.values.Get(name); ok {
		return existing, false
	}
	r.values.Set(name, value)
	return value, true
}

func (r *registry[T]) Take(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values.GetAndDel(name)
}

func (r *registry[T]) Remove(name string, value T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.values.Get(name)
	if !ok || current != value {
		return false
	}
	r.values.Del(name)
	return true
}

func (r *registry[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		names  []string
		values []T
	)
	r.values.ForEach(func(name string, value T) bool {
		names = append(names, name)
		values = append(values, value)
		return true
	})
	r.values.Del(names...)
	return values
}

func (r *registry[T]) Len() int {
	return int(r.values.Len())
}

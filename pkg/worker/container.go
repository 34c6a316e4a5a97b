package worker

import (
	"fmt"
	"reflect"
	"sync"
)

// Container holds the shared dependencies handlers are built from. Values
// are keyed by their static type.
type Container struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{values: make(map[reflect.Type]any)}
}

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Provide stores v as the instance of T, replacing any previous one.
func Provide[T any](c *Container, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[typeKey[T]()] = v
}

// Resolve returns the instance of T.
func Resolve[T any](c *Container) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[typeKey[T]()]
	if !ok {
		var zero T
		return zero, fmt.Errorf("container: no provider for %s", typeKey[T]())
	}
	return v.(T), nil
}

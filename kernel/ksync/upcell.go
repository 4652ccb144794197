// Package ksync provides the kernel's synchronization primitives.
//
// Everything here assumes a single execution unit: at most one logical
// context runs at a time and only gives the core away at explicit switch
// points. A multi-core port has to replace UPCell with a real lock and
// re-check every call site.
package ksync

import (
	"fmt"
	"sync/atomic"
)

// BorrowError is the panic value raised when a UPCell is borrowed twice.
type BorrowError struct {
	Name string
}

func (e *BorrowError) Error() string {
	if e.Name == "" {
		return "ksync: UPCell already borrowed"
	}
	return fmt.Sprintf("ksync: UPCell %q already borrowed", e.Name)
}

// UPCell grants exclusive access to a value on a uniprocessor.
type UPCell[T any] struct {
	name     string
	borrowed atomic.Bool
	v        T
}

// NewUPCell wraps v. The name shows up in borrow panics.
func NewUPCell[T any](name string, v T) *UPCell[T] {
	return &UPCell[T]{name: name, v: v}
}

// Guard is an outstanding exclusive borrow.
type Guard[T any] struct {
	c *UPCell[T]
}

// ExclusiveAccess borrows the value. It panics if a guard is outstanding.
func (c *UPCell[T]) ExclusiveAccess() *Guard[T] {
	if !c.borrowed.CompareAndSwap(false, true) {
		panic(&BorrowError{Name: c.name})
	}
	return &Guard[T]{c: c}
}

// Get returns the guarded value.
func (g *Guard[T]) Get() *T {
	if g.c == nil {
		panic("ksync: use of released guard")
	}
	return &g.c.v
}

// Release ends the borrow. Releasing twice is a no-op.
func (g *Guard[T]) Release() {
	if g.c == nil {
		return
	}
	g.c.borrowed.Store(false)
	g.c = nil
}

// With runs fn with exclusive access and releases afterwards.
func (c *UPCell[T]) With(fn func(v *T)) {
	g := c.ExclusiveAccess()
	defer g.Release()
	fn(g.Get())
}

// Borrowed reports whether a guard is outstanding.
func (c *UPCell[T]) Borrowed() bool { return c.borrowed.Load() }

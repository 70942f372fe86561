// Package deferred models results that only exist once an asynchronous
// provisioning operation has finished.
//
// A Value is settled exactly once, either with a result or with an error.
// Chain and Then attach continuations without blocking the caller: the
// continuation runs once, after the source succeeded. A failed source skips
// every continuation downstream of it and its error becomes theirs.
//
//	registry := deferred.Go(declareRegistry)
//	image := deferred.Chain(registry, func(attrs Attributes) (Image, error) {
//	    return publish(attrs)
//	})
//	img, err := image.Await(ctx)
package deferred

import (
	"context"
	"sync"
)

// Value is a handle to a T that becomes available later.
type Value[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// Resolver settles a Value created with New.
type Resolver[T any] func(T, error)

// New returns an unsettled Value and the function that settles it.
// Only the first call to the resolver has an effect.
func New[T any]() (*Value[T], Resolver[T]) {
	v := &Value[T]{done: make(chan struct{})}
	return v, v.settle
}

// Resolved returns a Value that already holds val.
func Resolved[T any](val T) *Value[T] {
	v, resolve := New[T]()
	resolve(val, nil)
	return v
}

// Failed returns a Value that already failed with err.
func Failed[T any](err error) *Value[T] {
	v, resolve := New[T]()
	var zero T
	resolve(zero, err)
	return v
}

// Go runs fn in its own goroutine and returns the Value it settles.
func Go[T any](fn func() (T, error)) *Value[T] {
	v, resolve := New[T]()
	go func() {
		resolve(fn())
	}()
	return v
}

// Chain returns a Value settled by fn applied to src's result.
// fn runs exactly once and only if src succeeded.
func Chain[A, B any](src *Value[A], fn func(A) (B, error)) *Value[B] {
	out, resolve := New[B]()
	go func() {
		<-src.done
		if src.err != nil {
			var zero B
			resolve(zero, src.err)
			return
		}
		resolve(fn(src.val))
	}()
	return out
}

// Then is Chain for continuations that themselves return a deferred Value,
// such as declaring a resource once its dependency resolved.
func Then[A, B any](src *Value[A], fn func(A) *Value[B]) *Value[B] {
	out, resolve := New[B]()
	go func() {
		<-src.done
		if src.err != nil {
			var zero B
			resolve(zero, src.err)
			return
		}
		next := fn(src.val)
		<-next.done
		resolve(next.val, next.err)
	}()
	return out
}

// MapErr returns a Value holding src's result, or fn applied to src's error.
func MapErr[T any](src *Value[T], fn func(error) error) *Value[T] {
	out, resolve := New[T]()
	go func() {
		<-src.done
		if src.err != nil {
			var zero T
			resolve(zero, fn(src.err))
			return
		}
		resolve(src.val, nil)
	}()
	return out
}

// Done is closed once the value is settled.
func (v *Value[T]) Done() <-chan struct{} {
	return v.done
}

// Await blocks until the value is settled or ctx is done.
// Cancelling ctx stops the wait, not the underlying operation.
func (v *Value[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-v.done:
		return v.val, v.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Settled reports whether the value holds a result or an error.
func (v *Value[T]) Settled() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

func (v *Value[T]) settle(val T, err error) {
	v.once.Do(func() {
		v.val = val
		v.err = err
		close(v.done)
	})
}

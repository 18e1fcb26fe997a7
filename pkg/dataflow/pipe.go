// Package dataflow implements push-based pipelines. A Source is pulled one
// item at a time and every item is pushed through a chain of stages into one
// or more sinks. Evaluation is synchronous and single-threaded: an item
// travels the whole chain before the next one is pulled.
package dataflow

import (
	"errors"
)

// Sink receives pushed items. Close is called once when the push ends and
// must be forwarded to any downstream sinks.
type Sink[T any] interface {
	Send(item T) error
	Close() error
}

// Stage builds a sink that forwards to next. Terminal stages ignore next.
type Stage[T any] func(next Sink[T]) Sink[T]

// Pipe composes stages, left to right, into a single sink. Items reaching the
// end of a chain with no terminal stage are discarded.
func Pipe[T any](stages ...Stage[T]) Sink[T] {
	var sink Sink[T] = Discard[T]()
	for i := len(stages) - 1; i >= 0; i-- {
		sink = stages[i](sink)
	}
	return sink
}

// SinkFunc adapts a function to the Sink interface. Close does nothing.
type SinkFunc[T any] func(item T) error

func (f SinkFunc[T]) Send(item T) error {
	return f(item)
}

func (f SinkFunc[T]) Close() error {
	return nil
}

type discard[T any] struct{}

func (discard[T]) Send(T) error { return nil }
func (discard[T]) Close() error { return nil }

// Discard returns a sink that drops every item.
func Discard[T any]() Sink[T] {
	return discard[T]{}
}

// Into turns an existing sink into a terminal stage.
func Into[T any](sink Sink[T]) Stage[T] {
	return func(Sink[T]) Sink[T] {
		return sink
	}
}

// Consume is a terminal stage calling fn on every item.
func Consume[T any](fn func(T) error) Stage[T] {
	return Into[T](SinkFunc[T](fn))
}

// link is the building block of non-terminal stages.
type link[T any] struct {
	next    Sink[T]
	send    func(T) error
	onClose func() error
	closed  bool
}

func (l *link[T]) Send(item T) error {
	return l.send(item)
}

func (l *link[T]) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	var errs []error
	if l.onClose != nil {
		if err := l.onClose(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := l.next.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Map replaces every item with fn(item).
func Map[T any](fn func(T) T) Stage[T] {
	return func(next Sink[T]) Sink[T] {
		return &link[T]{next: next, send: func(item T) error {
			return next.Send(fn(item))
		}}
	}
}

// MapErr is Map for functions that can fail. An error aborts the push.
func MapErr[T any](fn func(T) (T, error)) Stage[T] {
	return func(next Sink[T]) Sink[T] {
		return &link[T]{next: next, send: func(item T) error {
			mapped, err := fn(item)
			if err != nil {
				return err
			}
			return next.Send(mapped)
		}}
	}
}

// Filter forwards only the items for which keep returns true.
func Filter[T any](keep func(T) bool) Stage[T] {
	return func(next Sink[T]) Sink[T] {
		return &link[T]{next: next, send: func(item T) error {
			if !keep(item) {
				return nil
			}
			return next.Send(item)
		}}
	}
}

// Spy calls fn with every item and forwards it unchanged.
func Spy[T any](fn func(T)) Stage[T] {
	return func(next Sink[T]) Sink[T] {
		return &link[T]{next: next, send: func(item T) error {
			fn(item)
			return next.Send(item)
		}}
	}
}

// Slice forwards the items with index in [start, stop). A nil stop means no
// upper bound. Once the stop index is reached the push is stopped, so the
// source is not pulled past it.
func Slice[T any](start int, stop *int) Stage[T] {
	return func(next Sink[T]) Sink[T] {
		index := 0
		return &link[T]{next: next, send: func(item T) error {
			i := index
			index++
			if stop != nil && i >= *stop {
				return ErrStopPipeline
			}
			if i < start {
				return nil
			}
			if err := next.Send(item); err != nil {
				return err
			}
			if stop != nil && i+1 >= *stop {
				return ErrStopPipeline
			}
			return nil
		}}
	}
}

// Branch sends every item into a side pipe built from stages and then
// forwards it downstream. A side pipe that stops is closed and skipped from
// then on; it does not stop the main pipe.
func Branch[T any](stages ...Stage[T]) Stage[T] {
	return func(next Sink[T]) Sink[T] {
		side := Pipe(stages...)
		active := true
		return &link[T]{
			next: next,
			send: func(item T) error {
				if active {
					err := side.Send(item)
					if errors.Is(err, ErrStopPipeline) {
						active = false
						if err := side.Close(); err != nil {
							return err
						}
					} else if err != nil {
						return err
					}
				}
				return next.Send(item)
			},
			onClose: func() error {
				if !active {
					return nil
				}
				active = false
				return side.Close()
			},
		}
	}
}

type fork[T any] struct {
	sinks  []Sink[T]
	active []bool
	closed bool
}

// Fork is a terminal stage sending every item to each of sinks, in order.
// A sink that stops is closed and dropped; the fork itself stops once every
// sink has stopped.
func Fork[T any](sinks ...Sink[T]) Stage[T] {
	return func(Sink[T]) Sink[T] {
		active := make([]bool, len(sinks))
		for i := range active {
			active[i] = true
		}
		return &fork[T]{sinks: sinks, active: active}
	}
}

func (f *fork[T]) Send(item T) error {
	remaining := 0
	for i, sink := range f.sinks {
		if !f.active[i] {
			continue
		}
		err := sink.Send(item)
		if errors.Is(err, ErrStopPipeline) {
			f.active[i] = false
			if err := sink.Close(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		remaining++
	}
	if remaining == 0 {
		return ErrStopPipeline
	}
	return nil
}

func (f *fork[T]) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	var errs []error
	for i, sink := range f.sinks {
		if !f.active[i] {
			continue
		}
		f.active[i] = false
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package dataflow

import (
	"errors"
	"io"

	"golang.org/x/exp/constraints"
)

// Source yields items one at a time. Next returns io.EOF once the source is
// exhausted. Sources that hold resources should also implement io.Closer;
// Push closes them on every exit path.
type Source[T any] interface {
	Next() (T, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc[T any] func() (T, error)

func (f SourceFunc[T]) Next() (T, error) {
	return f()
}

type sliceSource[T any] struct {
	items    []T
	position int
}

// FromSlice returns a finite source over items. Calling it again on the same
// slice gives a fresh source, so slices are restartable.
func FromSlice[T any](items []T) Source[T] {
	return &sliceSource[T]{items: items}
}

func (s *sliceSource[T]) Next() (T, error) {
	var zero T
	if s.position >= len(s.items) {
		return zero, io.EOF
	}
	item := s.items[s.position]
	s.position++
	return item, nil
}

// Range yields start, start+1, ..., stop-1.
func Range[T constraints.Integer](start, stop T) Source[T] {
	current := start
	return SourceFunc[T](func() (T, error) {
		if current >= stop {
			var zero T
			return zero, io.EOF
		}
		value := current
		current++
		return value, nil
	})
}

// Counter is an infinite source counting up from start. It must be paired
// with a stage that stops the pipeline.
func Counter[T constraints.Integer](start T) Source[T] {
	current := start
	return SourceFunc[T](func() (T, error) {
		value := current
		current++
		return value, nil
	})
}

type chainSource[T any] struct {
	sources []Source[T]
	current int
}

// Chain concatenates sources. Each source is drained and, if it is a closer,
// closed before the next one is pulled.
func Chain[T any](sources ...Source[T]) Source[T] {
	return &chainSource[T]{sources: sources}
}

func (c *chainSource[T]) Next() (T, error) {
	var zero T
	for c.current < len(c.sources) {
		item, err := c.sources[c.current].Next()
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, io.EOF) {
			return zero, err
		}
		if closeErr := closeSource(c.sources[c.current]); closeErr != nil {
			c.current++
			return zero, closeErr
		}
		c.current++
	}
	return zero, io.EOF
}

func (c *chainSource[T]) Close() error {
	var errs []error
	for ; c.current < len(c.sources); c.current++ {
		if err := closeSource(c.sources[c.current]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type lazySource[T any] struct {
	open   func() (Source[T], error)
	source Source[T]
}

// Lazy defers opening a source until the first pull. Building a new Lazy
// from the same open function replays the sequence from the start.
func Lazy[T any](open func() (Source[T], error)) Source[T] {
	return &lazySource[T]{open: open}
}

func (l *lazySource[T]) Next() (T, error) {
	if l.source == nil {
		source, err := l.open()
		if err != nil {
			var zero T
			return zero, err
		}
		l.source = source
	}
	return l.source.Next()
}

func (l *lazySource[T]) Close() error {
	if l.source == nil {
		return nil
	}
	return closeSource(l.source)
}

func closeSource[T any](s Source[T]) error {
	if closer, ok := s.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

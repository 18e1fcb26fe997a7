package dataflow

// Future holds the result of an accumulator. It is resolved when the sink
// that feeds it is closed, which Push does when the source is exhausted or
// the pipeline stops.
type Future[T any] struct {
	value T
	done  bool
}

// Value returns the resolved value, or ErrFutureNotReady if the producing
// sink has not been closed yet.
func (f *Future[T]) Value() (T, error) {
	if !f.done {
		var zero T
		return zero, ErrFutureNotReady
	}
	return f.value, nil
}

// Done reports whether the future has been resolved.
func (f *Future[T]) Done() bool {
	return f.done
}

func (f *Future[T]) resolve(value T) {
	f.value = value
	f.done = true
}

// Accumulator pairs a terminal stage with the future it resolves.
type Accumulator[T, R any] struct {
	Sink   Stage[T]
	Future *Future[R]
}

// Tap pairs a pass-through stage with the future it resolves.
type Tap[T, R any] struct {
	Stage  Stage[T]
	Future *Future[R]
}

type reduceSink[T, R any] struct {
	fold   func(R, T) R
	acc    R
	future *Future[R]
}

func (r *reduceSink[T, R]) Send(item T) error {
	r.acc = r.fold(r.acc, item)
	return nil
}

func (r *reduceSink[T, R]) Close() error {
	if !r.future.done {
		r.future.resolve(r.acc)
	}
	return nil
}

// Reduce folds every item into an accumulated value starting at initial.
func Reduce[T, R any](fold func(R, T) R, initial R) Accumulator[T, R] {
	future := &Future[R]{}
	sink := &reduceSink[T, R]{fold: fold, acc: initial, future: future}
	return Accumulator[T, R]{Sink: Into[T](sink), Future: future}
}

// Collect gathers the pushed items, in order.
func Collect[T any]() Accumulator[T, []T] {
	return Reduce(func(items []T, item T) []T {
		return append(items, item)
	}, []T{})
}

// Count counts the pushed items.
func Count[T any]() Accumulator[T, int] {
	return Reduce(func(n int, _ T) int {
		return n + 1
	}, 0)
}

// SpyCount counts the items flowing through it without consuming them.
func SpyCount[T any]() Tap[T, int] {
	future := &Future[int]{}
	return Tap[T, int]{
		Future: future,
		Stage: func(next Sink[T]) Sink[T] {
			n := 0
			return &link[T]{
				next: next,
				send: func(item T) error {
					n++
					return next.Send(item)
				},
				onClose: func() error {
					future.resolve(n)
					return nil
				},
			}
		},
	}
}

// Counters reports how many items a CountFilter let through.
type Counters struct {
	Passed int
	Failed int
}

// Total is the number of items seen by the filter.
func (c Counters) Total() int {
	return c.Passed + c.Failed
}

// CountFilter is Filter with pass/fail bookkeeping.
func CountFilter[T any](keep func(T) bool) Tap[T, Counters] {
	future := &Future[Counters]{}
	return Tap[T, Counters]{
		Future: future,
		Stage: func(next Sink[T]) Sink[T] {
			var counters Counters
			return &link[T]{
				next: next,
				send: func(item T) error {
					if !keep(item) {
						counters.Failed++
						return nil
					}
					counters.Passed++
					return next.Send(item)
				},
				onClose: func() error {
					future.resolve(counters)
					return nil
				},
			}
		},
	}
}

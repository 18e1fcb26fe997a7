package dataflow

import (
	"errors"
	"io"
	"runtime/debug"
)

// Push drives src through sink until the source is exhausted or a stage
// returns ErrStopPipeline. The sink is closed exactly once, which resolves
// the futures of any accumulators in it, and src is closed if it implements
// io.Closer. This holds on error paths and when a stage panics.
func Push[T any](src Source[T], sink Sink[T]) (err error) {
	if closer, ok := src.(io.Closer); ok {
		defer func() {
			err = errors.Join(err, closer.Close())
		}()
	}

	index := 0
	sinkClosed := false
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Index: index, Value: r, Stack: string(debug.Stack())}
			if !sinkClosed {
				sinkClosed = true
				err = errors.Join(err, safeClose(sink))
			}
		}
	}()

	for {
		item, nextErr := src.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			sinkClosed = true
			return errors.Join(&SourceError{Index: index, Err: nextErr}, sink.Close())
		}

		sendErr := sink.Send(item)
		if errors.Is(sendErr, ErrStopPipeline) {
			break
		}
		if sendErr != nil {
			sinkClosed = true
			return errors.Join(&StageError{Index: index, Err: sendErr}, sink.Close())
		}
		index++
	}
	sinkClosed = true
	return sink.Close()
}

// PushResult runs Push and returns the value of result afterwards.
func PushResult[T, R any](src Source[T], sink Sink[T], result *Future[R]) (R, error) {
	if err := Push(src, sink); err != nil {
		var zero R
		return zero, err
	}
	return result.Value()
}

func safeClose[T any](sink Sink[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Index: -1, Value: r}
		}
	}()
	return sink.Close()
}

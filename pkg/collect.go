package cities

import "github.com/next-exp/cities_go/pkg/dataflow"

// Collect accumulates the events pushed into it, in order.
func Collect[T any]() dataflow.Accumulator[T, []T] {
	return dataflow.Collect[T]()
}

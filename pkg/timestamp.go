package cities

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultRate replaces a zero event rate, in hertz.
const DefaultRate = 0.5

// CreateTimestamp returns a function assigning each event number a
// timestamp in milliseconds for a constant event rate in hertz. Event n
// falls uniformly inside the n-th period, so timestamps grow with the event
// number and are never negative.
func CreateTimestamp(rate float64) func(eventNumber float64) float64 {
	switch {
	case rate == 0:
		warn(fmt.Sprintf("Zero rate is unphysical, using default rate = %v Hz instead", DefaultRate), "timestamp")
		rate = DefaultRate
	case rate < 0:
		warn(fmt.Sprintf("Negative rate is unphysical, using absolute value %v Hz instead", -rate), "timestamp")
		rate = -rate
	}

	period := 1 / rate
	jitter := distuv.Uniform{Min: 0, Max: period}
	return func(eventNumber float64) float64 {
		seconds := math.Abs(eventNumber)*period + jitter.Rand()
		return seconds * 1e3
	}
}

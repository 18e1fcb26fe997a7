package cities

import (
	"fmt"
	"math"
	"strconv"

	"github.com/next-exp/cities_go/pkg/dataflow"
)

// Sentinel values accepted in event ranges.
type Sentinel string

const (
	All  Sentinel = "all"
	Last Sentinel = "last"
)

// EventRange selects events [Start, Stop). A nil Stop means until the end
// of the input.
type EventRange struct {
	Start int
	Stop  *int
}

// AllEvents is the range used when event_range is omitted.
var AllEvents = EventRange{}

// Tuple returns the range as the optional-int tuple (n,), (start, stop),
// (start, nil) or (nil,).
func (r EventRange) Tuple() []*int {
	if r.Start == 0 {
		return []*int{r.Stop}
	}
	start := r.Start
	return []*int{&start, r.Stop}
}

func (r EventRange) String() string {
	switch {
	case r.Start == 0 && r.Stop == nil:
		return string(All)
	case r.Start == 0:
		return strconv.Itoa(*r.Stop)
	case r.Stop == nil:
		return fmt.Sprintf("(%d, %s)", r.Start, Last)
	default:
		return fmt.Sprintf("(%d, %d)", r.Start, *r.Stop)
	}
}

// Stage limits a pipeline to the events of the range. The upstream source
// is not pulled past Stop.
func (r EventRange) Stage() dataflow.Stage[Event] {
	return dataflow.Slice[Event](r.Start, r.Stop)
}

// rangeItem is one normalised element of a user supplied range.
type rangeItem struct {
	n        int
	sentinel Sentinel
}

func parseRangeItem(value any) (rangeItem, error) {
	switch v := value.(type) {
	case Sentinel:
		return parseSentinel(string(v))
	case string:
		return parseSentinel(v)
	case int:
		return checkBound(v)
	case int32:
		return checkBound(int(v))
	case int64:
		return checkBound(int(v))
	case uint:
		return checkBound(int(v))
	case float64:
		// decoded json numbers
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return rangeItem{}, invalidConfig("event_range value %v is not an integer", v)
		}
		return checkBound(int(v))
	}
	return rangeItem{}, invalidConfig("event_range value %v of type %T is not an integer", value, value)
}

func parseSentinel(s string) (rangeItem, error) {
	switch Sentinel(s) {
	case All, Last:
		return rangeItem{sentinel: Sentinel(s)}, nil
	}
	return rangeItem{}, invalidConfig("event_range value %q is neither an integer nor all/last", s)
}

func checkBound(n int) (rangeItem, error) {
	if n < 0 {
		return rangeItem{}, invalidConfig("event_range bound %d is negative", n)
	}
	return rangeItem{n: n}, nil
}

func rangeItems(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []int:
		items := make([]any, len(v))
		for i, n := range v {
			items[i] = n
		}
		return items, true
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items, true
	}
	return nil, false
}

// ResolveEventRange normalises an event_range value: an integer, a
// sentinel, or a sequence of one or two of them.
//
//	9          -> first 9 events
//	(5, 9)     -> events 5 to 8
//	(5, last)  -> events from 5 to the end
//	all        -> every event
//
// Any other combination is rejected with ErrInvalidConfig.
func ResolveEventRange(value any) (EventRange, error) {
	if r, ok := value.(EventRange); ok {
		return r, nil
	}
	items, isSequence := rangeItems(value)
	if !isSequence {
		items = []any{value}
	}

	switch len(items) {
	case 1:
		item, err := parseRangeItem(items[0])
		if err != nil {
			return EventRange{}, err
		}
		switch item.sentinel {
		case All:
			return AllEvents, nil
		case Last:
			return EventRange{}, invalidConfig("event_range cannot be %s alone or first", Last)
		}
		stop := item.n
		return EventRange{Stop: &stop}, nil

	case 2:
		first, err := parseRangeItem(items[0])
		if err != nil {
			return EventRange{}, err
		}
		second, err := parseRangeItem(items[1])
		if err != nil {
			return EventRange{}, err
		}
		if first.sentinel != "" {
			return EventRange{}, invalidConfig("event_range cannot start with %s when a stop is given", first.sentinel)
		}
		switch second.sentinel {
		case Last:
			return EventRange{Start: first.n}, nil
		case All:
			return EventRange{}, invalidConfig("event_range stop cannot be %s", All)
		}
		if second.n < first.n {
			return EventRange{}, invalidConfig("event_range (%d, %d) is out of order", first.n, second.n)
		}
		stop := second.n
		return EventRange{Start: first.n, Stop: &stop}, nil
	}
	return EventRange{}, invalidConfig("event_range must have one or two values, got %d", len(items))
}

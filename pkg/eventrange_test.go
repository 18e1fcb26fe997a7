package cities

import (
	"testing"

	"github.com/next-exp/cities_go/pkg/dataflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestResolveEventRange_ValidOptions(t *testing.T) {
	tests := []struct {
		name  string
		given any
		want  []*int
	}{
		{"integer", 9, []*int{intPtr(9)}},
		{"one element", []any{9}, []*int{intPtr(9)}},
		{"two elements", []any{5, 9}, []*int{intPtr(5), intPtr(9)}},
		{"until last", []any{5, Last}, []*int{intPtr(5), nil}},
		{"all", All, []*int{nil}},
		{"all in sequence", []any{All}, []*int{nil}},
		{"strings from config files", []any{5, "last"}, []*int{intPtr(5), nil}},
		{"int slice", []int{5, 9}, []*int{intPtr(5), intPtr(9)}},
		{"json number", 9.0, []*int{intPtr(9)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveEventRange(tt.given)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Tuple())
		})
	}
}

func TestResolveEventRange_InvalidOptions(t *testing.T) {
	tests := []struct {
		name  string
		given any
	}{
		{"last alone", Last},
		{"last in sequence", []any{Last}},
		{"last first", []any{Last, 4}},
		{"all with stop", []any{All, 4}},
		{"three values", []any{1, 2, 3}},
		{"out of order", []any{9, 5}},
		{"negative", []any{-1}},
		{"empty", []any{}},
		{"not an integer", 2.5},
		{"unknown string", "some"},
		{"stop is all", []any{5, All}},
		{"boolean", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveEventRange(tt.given)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestEventRange_String(t *testing.T) {
	for want, given := range map[string]any{
		"all":       All,
		"9":         9,
		"(5, 9)":    []any{5, 9},
		"(5, last)": []any{5, Last},
	} {
		r, err := ResolveEventRange(given)
		require.NoError(t, err)
		assert.Equal(t, want, r.String())
	}
}

func TestEventRange_Stage(t *testing.T) {
	events := make([]Event, 10)
	for i := range events {
		events[i] = Event{KeyEventNumber: i}
	}
	r, err := ResolveEventRange([]any{3, 6})
	require.NoError(t, err)

	collector := Collect[Event]()
	got, err := dataflow.PushResult(dataflow.FromSlice(events), dataflow.Pipe(r.Stage(), collector.Sink), collector.Future)

	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, eventNumbers(t, got))
}

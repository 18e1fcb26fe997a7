package cities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_With(t *testing.T) {
	original := Event{KeyEventNumber: 4, KeyTimestamp: 40.0, KeyRunNumber: -1}

	updated := original.With(KeyRunNumber, 6977)

	assert.Equal(t, Event{KeyEventNumber: 4, KeyTimestamp: 40.0, KeyRunNumber: 6977}, updated)
	assert.Equal(t, Event{KeyEventNumber: 4, KeyTimestamp: 40.0, KeyRunNumber: -1}, original)

	added := original.With(KeyXY, "reco")
	assert.Len(t, added, 4)
	assert.Equal(t, "reco", added[KeyXY])
	assert.False(t, original.Has(KeyXY))
}

func TestEvent_Accessors(t *testing.T) {
	event := Event{KeyEventNumber: int32(2), KeyTimestamp: float32(1.5), KeyTriggerType: "ext"}

	number, err := event.Int(KeyEventNumber)
	assert.NoError(t, err)
	assert.Equal(t, 2, number)
	ts, err := event.Float(KeyTimestamp)
	assert.NoError(t, err)
	assert.Equal(t, 1.5, ts)

	_, err = event.Int(KeyTriggerType)
	assert.Error(t, err)
	_, err = event.Float(KeyRunNumber)
	assert.Error(t, err)
	_, err = Field[int](event, KeyTriggerType)
	assert.Error(t, err)
}

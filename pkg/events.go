package cities

import (
	"fmt"
)

// Keys of the fields sources put in event records.
const (
	KeyEventNumber     = "event_number"
	KeyTimestamp       = "timestamp"
	KeyRunNumber       = "run_number"
	KeyTriggerType     = "trigger_type"
	KeyTriggerChannels = "trigger_channels"
	KeyPmt             = "pmt"
	KeySipm            = "sipm"
	KeyPmap            = "pmap"
	KeyHits            = "hits"
	KeyKdst            = "kdst"
	KeyPmtResponse     = "pmt_resp"
	KeySipmResponse    = "sipm_resp"
	KeyXY              = "xy"
)

// Event is the record flowing through a city pipeline. Stages add or
// overwrite fields; they never delete them.
type Event map[string]any

// With returns a copy of e with key set to value.
func (e Event) With(key string, value any) Event {
	out := make(Event, len(e)+1)
	for k, v := range e {
		out[k] = v
	}
	out[key] = value
	return out
}

func (e Event) Has(key string) bool {
	_, ok := e[key]
	return ok
}

func (e Event) Int(key string) (int, error) {
	value, ok := e[key]
	if !ok {
		return 0, fmt.Errorf("event has no field %q", key)
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	}
	return 0, fmt.Errorf("event field %q is %T, not an integer", key, value)
}

func (e Event) Int64(key string) (int64, error) {
	n, err := e.Int(key)
	return int64(n), err
}

func (e Event) String(key string) (string, error) {
	return Field[string](e, key)
}

func (e Event) Float(key string) (float64, error) {
	value, ok := e[key]
	if !ok {
		return 0, fmt.Errorf("event has no field %q", key)
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("event field %q is %T, not a number", key, value)
}

// Field returns the value stored under key with its concrete type.
func Field[T any](e Event, key string) (T, error) {
	var zero T
	value, ok := e[key]
	if !ok {
		return zero, fmt.Errorf("event has no field %q", key)
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("event field %q is %T, not %T", key, value, zero)
	}
	return typed, nil
}

// Waveforms holds one event of a [sensor, sample] waveform array.
type Waveforms struct {
	NSensors int
	NSamples int
	Data     []int16
}

func (w Waveforms) At(sensor, sample int) int16 {
	return w.Data[sensor*w.NSamples+sample]
}

// Sensor returns the samples of one sensor.
func (w Waveforms) Sensor(sensor int) []int16 {
	return w.Data[sensor*w.NSamples : (sensor+1)*w.NSamples]
}

// Peak is an S1 or S2 signal of a PMap.
type Peak struct {
	Number   int
	Times    []float64
	Energies []float64
	// SiPMs maps sensor id to the charge it collected in the peak.
	SiPMs map[int]float64
}

func (p Peak) TotalEnergy() float64 {
	total := 0.0
	for _, e := range p.Energies {
		total += e
	}
	return total
}

type PMap struct {
	S1 []Peak
	S2 []Peak
}

type Hit struct {
	Npeak int
	Xpeak float64
	Ypeak float64
	Nsipm int
	X     float64
	Y     float64
	Xrms  float64
	Yrms  float64
	Z     float64
	Q     float64
	E     float64
}

type HitCollection struct {
	EventNumber int
	Timestamp   float64
	Hits        []Hit
}

// KrEvent is one row of a point-like (krypton) event summary.
type KrEvent struct {
	Event  int
	Time   float64
	S1Peak int
	S2Peak int
	NS1    int
	NS2    int
	S1e    float64
	S1t    float64
	S2e    float64
	S2q    float64
	S2t    float64
	Nsipm  int
	X      float64
	Y      float64
	R      float64
	Phi    float64
	Z      float64
}

// SensorBin is the charge a sensor collected in one time bin.
type SensorBin struct {
	SensorID int
	Time     float64
	Charge   float64
}

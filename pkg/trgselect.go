package cities

import (
	"context"

	"github.com/next-exp/cities_go/pkg/dataflow"
)

// TrgSelect copies the raw waveforms of the events of one trigger type into
// a new file with the same layout.
var TrgSelect = NewCity("trgselect", trgSelect,
	Param{Name: "trigger_type", Required: true},
)

// waveformWriter writes the RD and Trigger arrays of raw waveform events.
// Arrays are created on the first event, when their shape is known.
type waveformWriter struct {
	out  *OutputFile
	info *EventInfoWriter
}

func (w *waveformWriter) write(event Event) error {
	if err := w.info.WriteEvent(event); err != nil {
		return err
	}
	pmtNode, sipmNode := RWF.Nodes()
	for _, wf := range []struct {
		key  string
		node string
	}{{KeyPmt, pmtNode}, {KeySipm, sipmNode}} {
		wfs, err := Field[Waveforms](event, wf.key)
		if err != nil {
			return err
		}
		array, err := OpenArray(w.out, wf.node, wfs.NSensors, wfs.NSamples)
		if err != nil {
			return err
		}
		if err := array.Append(wfs.Data); err != nil {
			return err
		}
	}

	triggerType, err := event.Int(KeyTriggerType)
	if err != nil {
		return err
	}
	types, err := OpenTable[TriggerTypeHDF5](w.out, "Trigger/trigger")
	if err != nil {
		return err
	}
	if err := types.Append(TriggerTypeHDF5{trigger_type: int32(triggerType)}); err != nil {
		return err
	}
	channels, err := Field[[]int16](event, KeyTriggerChannels)
	if err != nil {
		return err
	}
	trgChannels, err := OpenArray(w.out, "Trigger/events", NTriggerChannels)
	if err != nil {
		return err
	}
	return trgChannels.Append(channels)
}

func trgSelect(ctx context.Context, conf *Conf) (dataflow.Counters, error) {
	triggerType, err := conf.Int("trigger_type")
	if err != nil {
		return dataflow.Counters{}, err
	}

	selection := dataflow.CountFilter(func(event Event) bool {
		t, err := event.Int(KeyTriggerType)
		return err == nil && t == triggerType
	})
	writer := &waveformWriter{out: conf.Out, info: NewEventInfoWriter(conf.Out)}

	err = dataflow.Push(WfFromFiles(conf.FilesIn, RWF), dataflow.Pipe(
		interruptible(ctx),
		conf.EventRange.Stage(),
		conf.Count("in"),
		selection.Stage,
		conf.Count("out"),
		dataflow.Consume(writer.write),
	))
	if err != nil {
		return dataflow.Counters{}, err
	}
	return selection.Future.Value()
}

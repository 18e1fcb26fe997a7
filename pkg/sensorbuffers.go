package cities

import (
	"context"

	"github.com/next-exp/cities_go/pkg/dataflow"
)

// SensorBuffers writes the simulated sensor responses of every event with
// a timestamp generated for the configured event rate.
var SensorBuffers = NewCity("sensorbuffers", sensorBuffers,
	DetectorDBParam,
	Param{Name: "run_number", Required: true},
	Param{Name: "rate", Required: true},
)

func sensorRows(event int, timestamp float64, bins []SensorBin) []SensorBinHDF5 {
	rows := make([]SensorBinHDF5, len(bins))
	for i, bin := range bins {
		rows[i] = SensorBinHDF5{
			event:     int32(event),
			timestamp: timestamp,
			sensor_id: int32(bin.SensorID),
			time:      bin.Time,
			charge:    bin.Charge,
		}
	}
	return rows
}

// sensorWriter writes the PMT and SiPM responses of each event under the
// configured run number.
type sensorWriter struct {
	info      *EventInfoWriter
	runNumber int
	pmt       *Table[SensorBinHDF5]
	sipm      *Table[SensorBinHDF5]
}

func newSensorWriter(out *OutputFile, runNumber int) (*sensorWriter, error) {
	pmt, err := OpenTable[SensorBinHDF5](out, "Sensors/pmt_response")
	if err != nil {
		return nil, err
	}
	sipm, err := OpenTable[SensorBinHDF5](out, "Sensors/sipm_response")
	if err != nil {
		return nil, err
	}
	return &sensorWriter{info: NewEventInfoWriter(out), runNumber: runNumber, pmt: pmt, sipm: sipm}, nil
}

func (w *sensorWriter) write(event Event) error {
	number, err := event.Int(KeyEventNumber)
	if err != nil {
		return err
	}
	timestamp, err := event.Float(KeyTimestamp)
	if err != nil {
		return err
	}
	// responses are nil, not absent, when the input has no binning
	pmt, err := Field[[]SensorBin](event, KeyPmtResponse)
	if err != nil {
		return err
	}
	sipm, err := Field[[]SensorBin](event, KeySipmResponse)
	if err != nil {
		return err
	}

	if err := w.info.Write(w.runNumber, number, timestamp); err != nil {
		return err
	}
	if err := w.pmt.Append(sensorRows(number, timestamp, pmt)...); err != nil {
		return err
	}
	return w.sipm.Append(sensorRows(number, timestamp, sipm)...)
}

func sensorBuffers(ctx context.Context, conf *Conf) (dataflow.Counters, error) {
	runNumber, err := conf.Int("run_number")
	if err != nil {
		return dataflow.Counters{}, err
	}
	rate, err := conf.Float("rate")
	if err != nil {
		return dataflow.Counters{}, err
	}
	db, err := conf.DB()
	if err != nil {
		return dataflow.Counters{}, err
	}
	source, err := MCSensorsFromFile(conf.FilesIn, db, runNumber, rate)
	if err != nil {
		return dataflow.Counters{}, err
	}

	writer, err := newSensorWriter(conf.Out, runNumber)
	if err != nil {
		return dataflow.Counters{}, err
	}
	count := dataflow.SpyCount[Event]()

	err = dataflow.Push(source, dataflow.Pipe(
		interruptible(ctx),
		conf.EventRange.Stage(),
		conf.Count("in"),
		count.Stage,
		dataflow.Consume(writer.write),
	))
	if err != nil {
		return dataflow.Counters{}, err
	}
	n, err := count.Future.Value()
	return dataflow.Counters{Passed: n}, err
}

package cities

import (
	"errors"
	"fmt"
	"io"

	sqlx "github.com/jmoiron/sqlx"
	"github.com/next-exp/cities_go/pkg/dataflow"
	"gonum.org/v1/hdf5"
)

// NTriggerChannels is the width of the Trigger/events array.
const NTriggerChannels = 64

type eventKey struct {
	number    int
	timestamp float64
}

// eventFile yields one event record per pull from an open input file.
type eventFile struct {
	file    *hdf5.File
	fname   string
	run     int
	events  []eventKey
	index   int
	build   func(i int, event Event) (Event, error)
	closers []interface{ Close() error }
	closed  bool
}

func (f *eventFile) Next() (Event, error) {
	if f.index >= len(f.events) {
		return nil, io.EOF
	}
	i := f.index
	f.index++
	event := Event{
		KeyRunNumber:   f.run,
		KeyEventNumber: f.events[i].number,
		KeyTimestamp:   f.events[i].timestamp,
	}
	if f.build == nil {
		return event, nil
	}
	return f.build(i, event)
}

func (f *eventFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	err := closeAll(f.closers...)
	if configuration.Verbosity > 1 {
		logger.Info(fmt.Sprintf("Closing input file: %s", f.fname), "sources")
	}
	return errors.Join(err, f.file.Close())
}

// openEventFile opens fname, checks that every required node is present
// and loads the run number and the event list.
func openEventFile(fname string, required ...string) (*eventFile, error) {
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Opening input file: %s", fname), "sources")
	}
	file, err := openInputFile(fname)
	if err != nil {
		return nil, err
	}
	f := &eventFile{file: file, fname: fname}
	if err := f.load(required); err != nil {
		file.Close()
		return nil, err
	}
	return f, nil
}

func (f *eventFile) load(required []string) error {
	if err := requireNodes(f.file, f.fname, append([]string{"Run/events", "Run/runInfo"}, required...)...); err != nil {
		return err
	}
	runInfo, err := readTable[RunInfoHDF5](f.file, f.fname, "Run/runInfo")
	if err != nil {
		return err
	}
	if len(runInfo) == 0 {
		return &ErrInvalidInputFileStructure{Filename: f.fname, Node: "Run/runInfo"}
	}
	f.run = int(runInfo[0].run_number)

	events, err := readTable[EventDataHDF5](f.file, f.fname, "Run/events")
	if err != nil {
		return err
	}
	f.events = make([]eventKey, len(events))
	for i, e := range events {
		f.events[i] = eventKey{number: int(e.evt_number), timestamp: float64(e.timestamp)}
	}
	return nil
}

// filesSource reads paths one after the other. A file is opened on the
// first pull that reaches it and closed as soon as it is exhausted.
func filesSource(paths []string, open func(path string) (*eventFile, error)) dataflow.Source[Event] {
	sources := make([]dataflow.Source[Event], len(paths))
	for i, path := range paths {
		sources[i] = dataflow.Lazy(func() (dataflow.Source[Event], error) {
			f, err := open(path)
			if err != nil {
				return nil, err
			}
			return f, nil
		})
	}
	return dataflow.Chain(sources...)
}

// WfFromFiles yields the waveforms of every event in paths, together with
// the trigger information when the files carry it.
func WfFromFiles(paths []string, wfType WfType) dataflow.Source[Event] {
	return filesSource(paths, func(path string) (*eventFile, error) {
		return openWfFile(path, wfType)
	})
}

func openWfFile(fname string, wfType WfType) (*eventFile, error) {
	pmtNode, sipmNode := wfType.Nodes()
	f, err := openEventFile(fname, pmtNode, sipmNode)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*eventFile, error) {
		f.Close()
		return nil, err
	}

	pmt, err := openArray(f.file, fname, pmtNode, 3)
	if err != nil {
		return fail(err)
	}
	f.closers = append(f.closers, pmt)
	sipm, err := openArray(f.file, fname, sipmNode, 3)
	if err != nil {
		return fail(err)
	}
	f.closers = append(f.closers, sipm)
	for _, array := range []*ArrayReader{pmt, sipm} {
		if array.Len() != len(f.events) {
			return fail(&ErrInvalidInputFileStructure{Filename: fname, Node: array.path})
		}
	}

	// Simulated files have no trigger group. When the group is there its
	// tables are mandatory.
	var triggerTypes []TriggerTypeHDF5
	var triggerChannels *ArrayReader
	if nodeExists(f.file, "Trigger") {
		if err := requireNodes(f.file, fname, "Trigger/events", "Trigger/trigger"); err != nil {
			return fail(err)
		}
		triggerTypes, err = readTable[TriggerTypeHDF5](f.file, fname, "Trigger/trigger")
		if err != nil {
			return fail(err)
		}
		triggerChannels, err = openArray(f.file, fname, "Trigger/events", 2)
		if err != nil {
			return fail(err)
		}
		f.closers = append(f.closers, triggerChannels)
		if len(triggerTypes) != len(f.events) || triggerChannels.Len() != len(f.events) {
			return fail(&ErrInvalidInputFileStructure{Filename: fname, Node: "Trigger"})
		}
	}

	f.build = func(i int, event Event) (Event, error) {
		for _, wf := range []struct {
			key   string
			array *ArrayReader
		}{{KeyPmt, pmt}, {KeySipm, sipm}} {
			data, err := wf.array.ReadEvent(i)
			if err != nil {
				return nil, err
			}
			shape := wf.array.Shape()
			event[wf.key] = Waveforms{NSensors: shape[0], NSamples: shape[1], Data: data}
		}
		if triggerChannels != nil {
			event[KeyTriggerType] = int(triggerTypes[i].trigger_type)
			channels, err := triggerChannels.ReadEvent(i)
			if err != nil {
				return nil, err
			}
			event[KeyTriggerChannels] = channels
		}
		return event, nil
	}
	return f, nil
}

// PmapFromFiles yields the PMap of every event in paths. Events without
// peaks get an empty PMap.
func PmapFromFiles(paths []string) dataflow.Source[Event] {
	return filesSource(paths, openPmapFile)
}

func openPmapFile(fname string) (*eventFile, error) {
	f, err := openEventFile(fname, "PMAPS/S1", "PMAPS/S2", "PMAPS/S2Si")
	if err != nil {
		return nil, err
	}
	pmaps, err := readPmaps(f.file, fname)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.build = func(i int, event Event) (Event, error) {
		pmap, ok := pmaps[f.events[i].number]
		if !ok {
			pmap = &PMap{}
		}
		event[KeyPmap] = *pmap
		return event, nil
	}
	return f, nil
}

func readPmaps(file *hdf5.File, fname string) (map[int]*PMap, error) {
	s1, err := readTable[PeakHDF5](file, fname, "PMAPS/S1")
	if err != nil {
		return nil, err
	}
	s2, err := readTable[PeakHDF5](file, fname, "PMAPS/S2")
	if err != nil {
		return nil, err
	}
	s2si, err := readTable[PeakSiPMHDF5](file, fname, "PMAPS/S2Si")
	if err != nil {
		return nil, err
	}

	pmaps := make(map[int]*PMap)
	pmapOf := func(event int32) *PMap {
		pmap, ok := pmaps[int(event)]
		if !ok {
			pmap = &PMap{}
			pmaps[int(event)] = pmap
		}
		return pmap
	}
	// rows of a peak are contiguous and peaks come in order
	peakOf := func(peaks *[]Peak, number int32) *Peak {
		n := len(*peaks)
		if n == 0 || (*peaks)[n-1].Number != int(number) {
			*peaks = append(*peaks, Peak{Number: int(number)})
			n++
		}
		return &(*peaks)[n-1]
	}

	for _, row := range s1 {
		peak := peakOf(&pmapOf(row.event).S1, row.peak)
		peak.Times = append(peak.Times, float64(row.time))
		peak.Energies = append(peak.Energies, float64(row.ene))
	}
	for _, row := range s2 {
		peak := peakOf(&pmapOf(row.event).S2, row.peak)
		peak.Times = append(peak.Times, float64(row.time))
		peak.Energies = append(peak.Energies, float64(row.ene))
	}
	for _, row := range s2si {
		pmap := pmapOf(row.event)
		var peak *Peak
		for i := range pmap.S2 {
			if pmap.S2[i].Number == int(row.peak) {
				peak = &pmap.S2[i]
				break
			}
		}
		if peak == nil {
			return nil, &ErrInvalidInputFileStructure{Filename: fname, Node: "PMAPS/S2Si"}
		}
		if peak.SiPMs == nil {
			peak.SiPMs = make(map[int]float64)
		}
		peak.SiPMs[int(row.nsipm)] += float64(row.ene)
	}
	return pmaps, nil
}

// HitsAndKdstFromFiles yields the reconstructed hits and the kr dst rows of
// every event in paths.
func HitsAndKdstFromFiles(paths []string) dataflow.Source[Event] {
	return filesSource(paths, openHitsFile)
}

func openHitsFile(fname string) (*eventFile, error) {
	f, err := openEventFile(fname, "RECO/Events", "DST/Events")
	if err != nil {
		return nil, err
	}
	hitRows, err := readTable[HitHDF5](f.file, fname, "RECO/Events")
	if err != nil {
		f.Close()
		return nil, err
	}
	kdstRows, err := readTable[KrEventHDF5](f.file, fname, "DST/Events")
	if err != nil {
		f.Close()
		return nil, err
	}

	hits := make(map[int][]Hit)
	for _, row := range hitRows {
		hits[int(row.event)] = append(hits[int(row.event)], hitFromRow(row))
	}
	kdst := make(map[int][]KrEvent)
	for _, row := range kdstRows {
		kdst[int(row.event)] = append(kdst[int(row.event)], krEventFromRow(row))
	}

	f.build = func(i int, event Event) (Event, error) {
		number := f.events[i].number
		event[KeyHits] = HitCollection{
			EventNumber: number,
			Timestamp:   f.events[i].timestamp,
			Hits:        hits[number],
		}
		event[KeyKdst] = kdst[number]
		return event, nil
	}
	return f, nil
}

func hitFromRow(row HitHDF5) Hit {
	return Hit{
		Npeak: int(row.npeak),
		Xpeak: row.Xpeak,
		Ypeak: row.Ypeak,
		Nsipm: int(row.nsipm),
		X:     row.X,
		Y:     row.Y,
		Xrms:  row.Xrms,
		Yrms:  row.Yrms,
		Z:     row.Z,
		Q:     row.Q,
		E:     row.E,
	}
}

func krEventFromRow(row KrEventHDF5) KrEvent {
	return KrEvent{
		Event:  int(row.event),
		Time:   row.time,
		S1Peak: int(row.s1_peak),
		S2Peak: int(row.s2_peak),
		NS1:    int(row.nS1),
		NS2:    int(row.nS2),
		S1e:    row.S1e,
		S1t:    row.S1t,
		S2e:    row.S2e,
		S2q:    row.S2q,
		S2t:    row.S2t,
		Nsipm:  int(row.Nsipm),
		X:      row.X,
		Y:      row.Y,
		R:      row.R,
		Phi:    row.Phi,
		Z:      row.Z,
	}
}

// MCSensorsFromFile yields the simulated PMT and SiPM responses of every
// event in paths, with timestamps generated for the given rate in hertz.
// Sensors are told apart with the PMT list of runNumber in db.
func MCSensorsFromFile(paths []string, db *sqlx.DB, runNumber int, rate float64) (dataflow.Source[Event], error) {
	pmts, err := DataPMT(db, runNumber)
	if err != nil {
		return nil, fmt.Errorf("error reading PMT positions: %w", err)
	}
	pmtIDs := make(map[int]bool, len(pmts))
	for _, pmt := range pmts {
		pmtIDs[pmt.SensorID] = true
	}
	timestamp := CreateTimestamp(rate)

	return filesSource(paths, func(path string) (*eventFile, error) {
		return openMCSensorsFile(path, pmtIDs, timestamp)
	}), nil
}

func openMCSensorsFile(fname string, pmtIDs map[int]bool, timestamp func(float64) float64) (*eventFile, error) {
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Opening input file: %s", fname), "sources")
	}
	file, err := openInputFile(fname)
	if err != nil {
		return nil, err
	}
	f := &eventFile{file: file, fname: fname}
	fail := func(err error) (*eventFile, error) {
		f.Close()
		return nil, err
	}

	if err := requireNodes(file, fname, "MC/sns_response", "MC/configuration"); err != nil {
		return fail(err)
	}
	if nodeExists(file, "Run/runInfo") {
		runInfo, err := readTable[RunInfoHDF5](file, fname, "Run/runInfo")
		if err != nil {
			return fail(err)
		}
		if len(runInfo) > 0 {
			f.run = int(runInfo[0].run_number)
		}
	}
	config, err := readTable[MCConfigurationHDF5](file, fname, "MC/configuration")
	if err != nil {
		return fail(err)
	}
	responses, err := readTable[MCSensorResponseHDF5](file, fname, "MC/sns_response")
	if err != nil {
		return fail(err)
	}

	pmtBin, sipmBin, binned := sensorBinning(config)
	if !binned {
		warn("No binning info available.", "sources")
	}

	type eventResponse struct {
		pmt  []SensorBin
		sipm []SensorBin
	}
	byEvent := make(map[int]*eventResponse)
	addEvent := func(number int) *eventResponse {
		resp, ok := byEvent[number]
		if !ok {
			resp = &eventResponse{}
			byEvent[number] = resp
			f.events = append(f.events, eventKey{number: number, timestamp: timestamp(float64(number))})
		}
		return resp
	}
	// Every simulated event has particles, hits on the sensors are optional.
	if nodeExists(file, "MC/particles") {
		particles, err := readTable[MCParticleHDF5](file, fname, "MC/particles")
		if err != nil {
			return fail(err)
		}
		for _, row := range particles {
			addEvent(int(row.event_id))
		}
	}
	for _, row := range responses {
		resp := addEvent(int(row.event_id))
		if !binned {
			continue
		}
		sensor := int(row.sensor_id)
		if pmtIDs[sensor] {
			resp.pmt = append(resp.pmt, SensorBin{SensorID: sensor, Time: float64(row.time_bin) * pmtBin, Charge: float64(row.charge)})
		} else {
			resp.sipm = append(resp.sipm, SensorBin{SensorID: sensor, Time: float64(row.time_bin) * sipmBin, Charge: float64(row.charge)})
		}
	}

	f.build = func(i int, event Event) (Event, error) {
		resp := byEvent[f.events[i].number]
		event[KeyPmtResponse] = resp.pmt
		event[KeySipmResponse] = resp.sipm
		return event, nil
	}
	return f, nil
}

package cities

import (
	"context"
	"fmt"

	"github.com/next-exp/cities_go/pkg/dataflow"
)

// HitFilter keeps the events with at least min_hits reconstructed hits and
// copies their hits, kr summary and simulation info to the output.
var HitFilter = NewCity("hitfilter", hitFilter,
	DetectorDBParam,
	Param{Name: "min_hits", Default: 1},
	Param{Name: "copy_mc", Default: true},
)

func hitRow(event int, time float64, hit Hit) HitHDF5 {
	return HitHDF5{
		event: int32(event),
		time:  time,
		npeak: uint16(hit.Npeak),
		Xpeak: hit.Xpeak,
		Ypeak: hit.Ypeak,
		nsipm: uint16(hit.Nsipm),
		X:     hit.X,
		Y:     hit.Y,
		Xrms:  hit.Xrms,
		Yrms:  hit.Yrms,
		Z:     hit.Z,
		Q:     hit.Q,
		E:     hit.E,
	}
}

func krEventRow(kr KrEvent) KrEventHDF5 {
	return KrEventHDF5{
		event:   int32(kr.Event),
		time:    kr.Time,
		s1_peak: uint16(kr.S1Peak),
		s2_peak: uint16(kr.S2Peak),
		nS1:     uint16(kr.NS1),
		nS2:     uint16(kr.NS2),
		S1e:     kr.S1e,
		S1t:     kr.S1t,
		S2e:     kr.S2e,
		S2q:     kr.S2q,
		S2t:     kr.S2t,
		Nsipm:   uint16(kr.Nsipm),
		X:       kr.X,
		Y:       kr.Y,
		R:       kr.R,
		Phi:     kr.Phi,
		Z:       kr.Z,
	}
}

// hitWriter writes the hits and kr rows of the kept events and remembers
// their numbers for the MC copy.
type hitWriter struct {
	info      *EventInfoWriter
	hits      *Table[HitHDF5]
	kdst      *Table[KrEventHDF5]
	kept      []int
	runNumber int
}

func newHitWriter(out *OutputFile) (*hitWriter, error) {
	hits, err := OpenTable[HitHDF5](out, "RECO/Events")
	if err != nil {
		return nil, err
	}
	kdst, err := OpenTable[KrEventHDF5](out, "DST/Events")
	if err != nil {
		return nil, err
	}
	return &hitWriter{info: NewEventInfoWriter(out), hits: hits, kdst: kdst}, nil
}

func (w *hitWriter) write(event Event) error {
	run, err := event.Int(KeyRunNumber)
	if err != nil {
		return err
	}
	hits, err := Field[HitCollection](event, KeyHits)
	if err != nil {
		return err
	}
	kdst, err := Field[[]KrEvent](event, KeyKdst)
	if err != nil {
		return err
	}

	if err := w.info.Write(run, hits.EventNumber, hits.Timestamp); err != nil {
		return err
	}
	rows := make([]HitHDF5, len(hits.Hits))
	for i, hit := range hits.Hits {
		rows[i] = hitRow(hits.EventNumber, hits.Timestamp, hit)
	}
	if err := w.hits.Append(rows...); err != nil {
		return err
	}
	krRows := make([]KrEventHDF5, len(kdst))
	for i, kr := range kdst {
		krRows[i] = krEventRow(kr)
	}
	if err := w.kdst.Append(krRows...); err != nil {
		return err
	}
	w.runNumber = run
	w.kept = append(w.kept, hits.EventNumber)
	return nil
}

func hitFilter(ctx context.Context, conf *Conf) (dataflow.Counters, error) {
	minHits, err := conf.Int("min_hits")
	if err != nil {
		return dataflow.Counters{}, err
	}
	copyMC, err := conf.Bool("copy_mc")
	if err != nil {
		return dataflow.Counters{}, err
	}

	writer, err := newHitWriter(conf.Out)
	if err != nil {
		return dataflow.Counters{}, err
	}

	enoughHits := dataflow.CountFilter(func(event Event) bool {
		hits, err := Field[HitCollection](event, KeyHits)
		return err == nil && len(hits.Hits) >= minHits
	})

	err = dataflow.Push(HitsAndKdstFromFiles(conf.FilesIn), dataflow.Pipe(
		interruptible(ctx),
		conf.EventRange.Stage(),
		conf.Count("in"),
		enoughHits.Stage,
		conf.Count("out"),
		dataflow.Consume(writer.write),
	))
	if err != nil {
		return dataflow.Counters{}, err
	}
	counters, err := enoughHits.Future.Value()
	if err != nil {
		return dataflow.Counters{}, err
	}

	if copyMC {
		db, err := conf.DB()
		if err != nil {
			warn(fmt.Sprintf("Detector database unavailable, sensor positions not copied: %v", err), "hitfilter")
			db = nil
		}
		if err := CopyMCInfo(conf.FilesIn, conf.Out, writer.kept, db, writer.runNumber); err != nil {
			return counters, err
		}
	}
	return counters, nil
}

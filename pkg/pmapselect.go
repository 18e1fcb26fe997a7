package cities

import (
	"context"

	"github.com/next-exp/cities_go/pkg/dataflow"
)

// PmapSelect keeps the events whose S1 and S2 multiplicities fall in the
// configured ranges and writes a per-event PMap summary.
var PmapSelect = NewCity("pmapselect", pmapSelect,
	Param{Name: "s1_nmin", Default: 1},
	Param{Name: "s1_nmax", Default: 1},
	Param{Name: "s2_nmin", Default: 1},
	Param{Name: "s2_nmax", Default: 1},
)

func pmapSelect(ctx context.Context, conf *Conf) (dataflow.Counters, error) {
	var bounds [4]int
	for i, name := range []string{"s1_nmin", "s1_nmax", "s2_nmin", "s2_nmax"} {
		n, err := conf.Int(name)
		if err != nil {
			return dataflow.Counters{}, err
		}
		bounds[i] = n
	}
	if bounds[0] > bounds[1] || bounds[2] > bounds[3] {
		return dataflow.Counters{}, invalidConfig("peak multiplicity ranges [%d, %d] and [%d, %d] must be ordered", bounds[0], bounds[1], bounds[2], bounds[3])
	}

	selection := dataflow.CountFilter(func(event Event) bool {
		pmap, err := Field[PMap](event, KeyPmap)
		if err != nil {
			return false
		}
		return len(pmap.S1) >= bounds[0] && len(pmap.S1) <= bounds[1] &&
			len(pmap.S2) >= bounds[2] && len(pmap.S2) <= bounds[3]
	})

	info := NewEventInfoWriter(conf.Out)
	summary, err := OpenTable[PmapSummaryHDF5](conf.Out, "PMAPS/Summary")
	if err != nil {
		return dataflow.Counters{}, err
	}
	write := dataflow.Consume(func(event Event) error {
		if err := info.WriteEvent(event); err != nil {
			return err
		}
		number, _ := event.Int(KeyEventNumber)
		timestamp, _ := event.Float(KeyTimestamp)
		pmap, err := Field[PMap](event, KeyPmap)
		if err != nil {
			return err
		}
		row := PmapSummaryHDF5{
			event: int32(number),
			time:  timestamp,
			nS1:   int32(len(pmap.S1)),
			nS2:   int32(len(pmap.S2)),
		}
		for _, peak := range pmap.S1 {
			row.S1e += peak.TotalEnergy()
		}
		for _, peak := range pmap.S2 {
			row.S2e += peak.TotalEnergy()
		}
		return summary.Append(row)
	})

	err = dataflow.Push(PmapFromFiles(conf.FilesIn), dataflow.Pipe(
		interruptible(ctx),
		conf.EventRange.Stage(),
		conf.Count("in"),
		selection.Stage,
		conf.Count("out"),
		write,
	))
	if err != nil {
		return dataflow.Counters{}, err
	}
	return selection.Future.Value()
}

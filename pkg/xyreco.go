package cities

import (
	"context"
	"errors"
	"fmt"

	"github.com/next-exp/cities_go/pkg/dataflow"
)

// XYReco reconstructs the xy position of every event from the charge its
// SiPMs collected.
var XYReco = NewCity("xyreco", xyReco,
	DetectorDBParam,
	Param{Name: "wf_type", Default: "rwf"},
	Param{Name: "algo", Default: AlgoCorona},
	Param{Name: "sipm_threshold", Default: 0.0},
	Param{Name: "qthr", Default: 1.0},
	Param{Name: "qlm", Default: 5.0},
	Param{Name: "lm_radius", Default: 0.0},
	Param{Name: "new_lm_radius", Default: 15.0},
	Param{Name: "msipm", Default: 3},
	Param{Name: "consider_masked", Default: false},
)

func xyParams(conf *Conf) (XYParams, error) {
	var params XYParams
	var err error
	floatParams := []struct {
		name string
		dst  *float64
	}{
		{"qthr", &params.Qthr},
		{"qlm", &params.Qlm},
		{"lm_radius", &params.LMRadius},
		{"new_lm_radius", &params.NewLMRadius},
	}
	for _, p := range floatParams {
		if *p.dst, err = conf.Float(p.name); err != nil {
			return params, err
		}
	}
	if params.MSiPM, err = conf.Int("msipm"); err != nil {
		return params, err
	}
	params.ConsiderMasked, err = conf.Bool("consider_masked")
	return params, err
}

// sipmCharges sums, for every sensor, the samples above threshold.
func sipmCharges(wfs Waveforms, threshold float64) []float64 {
	charges := make([]float64, wfs.NSensors)
	for i := range charges {
		for _, sample := range wfs.Sensor(i) {
			if float64(sample) > threshold {
				charges[i] += float64(sample)
			}
		}
	}
	return charges
}

type xyRun struct {
	positions [][2]float64
	find      XYFunc
}

func xyReco(ctx context.Context, conf *Conf) (dataflow.Counters, error) {
	wfTypeName, err := conf.String("wf_type")
	if err != nil {
		return dataflow.Counters{}, err
	}
	wfType, err := ParseWfType(wfTypeName)
	if err != nil {
		return dataflow.Counters{}, err
	}
	algo, err := conf.String("algo")
	if err != nil {
		return dataflow.Counters{}, err
	}
	params, err := xyParams(conf)
	if err != nil {
		return dataflow.Counters{}, err
	}
	threshold, err := conf.Float("sipm_threshold")
	if err != nil {
		return dataflow.Counters{}, err
	}
	db, err := conf.DB()
	if err != nil {
		return dataflow.Counters{}, err
	}

	// masked channels and positions change between runs
	runs := make(map[int]*xyRun)
	forRun := func(run int) (*xyRun, error) {
		if r, ok := runs[run]; ok {
			return r, nil
		}
		sipms, err := DataSiPM(db, run)
		if err != nil {
			return nil, fmt.Errorf("error reading SiPM positions: %w", err)
		}
		find, err := ComputeXYPosition(db, run, algo, params)
		if err != nil {
			return nil, err
		}
		r := &xyRun{find: find, positions: make([][2]float64, len(sipms))}
		for i, sipm := range sipms {
			r.positions[i] = [2]float64{sipm.X, sipm.Y}
		}
		runs[run] = r
		return r, nil
	}

	reconstruct := dataflow.MapErr(func(event Event) (Event, error) {
		run, err := event.Int(KeyRunNumber)
		if err != nil {
			return nil, err
		}
		r, err := forRun(run)
		if err != nil {
			return nil, err
		}
		wfs, err := Field[Waveforms](event, KeySipm)
		if err != nil {
			return nil, err
		}
		if wfs.NSensors != len(r.positions) {
			return nil, fmt.Errorf("event has %d SiPMs, run %d has %d", wfs.NSensors, run, len(r.positions))
		}
		clusters, err := r.find(r.positions, sipmCharges(wfs, threshold))
		if errors.Is(err, ErrClusterEmpty) {
			return event, nil
		}
		if err != nil {
			return nil, err
		}
		return event.With(KeyXY, clusters), nil
	})
	found := dataflow.CountFilter(func(event Event) bool { return event.Has(KeyXY) })

	info := NewEventInfoWriter(conf.Out)
	xyTable, err := OpenTable[XYHDF5](conf.Out, "XY/Events")
	if err != nil {
		return dataflow.Counters{}, err
	}
	write := dataflow.Consume(func(event Event) error {
		if err := info.WriteEvent(event); err != nil {
			return err
		}
		number, _ := event.Int(KeyEventNumber)
		timestamp, _ := event.Float(KeyTimestamp)
		clusters, err := Field[[]Cluster](event, KeyXY)
		if err != nil {
			return err
		}
		rows := make([]XYHDF5, len(clusters))
		for i, c := range clusters {
			rows[i] = XYHDF5{
				event: int32(number),
				time:  timestamp,
				X:     c.X,
				Y:     c.Y,
				Xrms:  c.Xrms,
				Yrms:  c.Yrms,
				Q:     c.Q,
				nsipm: int32(c.Nsipm),
			}
		}
		return xyTable.Append(rows...)
	})

	err = dataflow.Push(WfFromFiles(conf.FilesIn, wfType), dataflow.Pipe(
		interruptible(ctx),
		conf.EventRange.Stage(),
		conf.Count("in"),
		reconstruct,
		found.Stage,
		conf.Count("out"),
		write,
	))
	if err != nil {
		return dataflow.Counters{}, err
	}
	return found.Future.Value()
}

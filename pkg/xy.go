package cities

import (
	"fmt"
	"math"

	sqlx "github.com/jmoiron/sqlx"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Cluster is the charge-weighted position of a group of SiPMs.
type Cluster struct {
	X     float64
	Y     float64
	Xrms  float64
	Yrms  float64
	Q     float64
	Nsipm int
}

func (c Cluster) R() float64 {
	return math.Hypot(c.X, c.Y)
}

func (c Cluster) Phi() float64 {
	return math.Atan2(c.Y, c.X)
}

// XYParams are the reconstruction parameters of the corona algorithm.
// Charges are in pes and distances in mm.
type XYParams struct {
	Qthr           float64
	Qlm            float64
	LMRadius       float64
	NewLMRadius    float64
	MSiPM          int
	ConsiderMasked bool
}

// XYFunc reconstructs clusters from SiPM positions and their charges.
type XYFunc func(xys [][2]float64, qs []float64) ([]Cluster, error)

const (
	AlgoBarycenter = "barycenter"
	AlgoCorona     = "corona"
)

// ComputeXYPosition builds the xy reconstruction of run. The SiPMs that are
// masked in that run are read from db; with ConsiderMasked they count
// toward MSiPM when they lie inside NewLMRadius of a local maximum.
func ComputeXYPosition(db *sqlx.DB, runNumber int, algo string, params XYParams) (XYFunc, error) {
	switch algo {
	case AlgoBarycenter:
		return func(xys [][2]float64, qs []float64) ([]Cluster, error) {
			xys, qs = aboveThreshold(xys, qs, params.Qthr)
			c, err := barycenter(xys, qs)
			if err != nil {
				return nil, err
			}
			return []Cluster{c}, nil
		}, nil
	case AlgoCorona:
	default:
		return nil, invalidConfig("unknown xy algorithm %q", algo)
	}

	var masked [][2]float64
	if params.ConsiderMasked {
		sipms, err := DataSiPM(db, runNumber)
		if err != nil {
			return nil, fmt.Errorf("error reading SiPM positions: %w", err)
		}
		for _, sipm := range sipms {
			if !sipm.Active {
				masked = append(masked, [2]float64{sipm.X, sipm.Y})
			}
		}
		if configuration.Verbosity > 1 {
			logger.Info(fmt.Sprintf("Run %d has %d masked SiPMs", runNumber, len(masked)), "xy")
		}
	}
	return func(xys [][2]float64, qs []float64) ([]Cluster, error) {
		return corona(xys, qs, masked, params)
	}, nil
}

func distance(a, b [2]float64) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}

func aboveThreshold(xys [][2]float64, qs []float64, qthr float64) ([][2]float64, []float64) {
	var keptXY [][2]float64
	var keptQ []float64
	for i, q := range qs {
		if q >= qthr {
			keptXY = append(keptXY, xys[i])
			keptQ = append(keptQ, q)
		}
	}
	return keptXY, keptQ
}

func barycenter(xys [][2]float64, qs []float64) (Cluster, error) {
	if len(qs) == 0 {
		return Cluster{}, fmt.Errorf("%w: no SiPMs above threshold", ErrClusterEmpty)
	}
	total := floats.Sum(qs)
	if total <= 0 {
		return Cluster{}, fmt.Errorf("%w: SiPMs carry no charge", ErrClusterEmpty)
	}
	xs := make([]float64, len(xys))
	ys := make([]float64, len(xys))
	for i, xy := range xys {
		xs[i], ys[i] = xy[0], xy[1]
	}
	x, xvar := stat.PopMeanVariance(xs, qs)
	y, yvar := stat.PopMeanVariance(ys, qs)
	return Cluster{
		X:     x,
		Y:     y,
		Xrms:  math.Sqrt(xvar),
		Yrms:  math.Sqrt(yvar),
		Q:     total,
		Nsipm: len(qs),
	}, nil
}

// corona finds clusters around successive local maxima. Each SiPM joins at
// most one cluster.
func corona(xys [][2]float64, qs []float64, masked [][2]float64, params XYParams) ([]Cluster, error) {
	xys, qs = aboveThreshold(xys, qs, params.Qthr)

	var clusters []Cluster
	for len(qs) > 0 {
		hottest := floats.MaxIdx(qs)
		if qs[hottest] < params.Qlm {
			break
		}

		localMax := xys[hottest]
		if params.LMRadius > 0 {
			var near [][2]float64
			var nearQ []float64
			for i, xy := range xys {
				if distance(xy, xys[hottest]) <= params.LMRadius {
					near = append(near, xy)
					nearQ = append(nearQ, qs[i])
				}
			}
			c, err := barycenter(near, nearQ)
			if err != nil {
				return nil, err
			}
			localMax = [2]float64{c.X, c.Y}
		}

		var inXY, outXY [][2]float64
		var inQ, outQ []float64
		for i, xy := range xys {
			if distance(xy, localMax) <= params.NewLMRadius {
				inXY = append(inXY, xy)
				inQ = append(inQ, qs[i])
			} else {
				outXY = append(outXY, xy)
				outQ = append(outQ, qs[i])
			}
		}

		maskedNeighbours := 0
		for _, xy := range masked {
			if distance(xy, localMax) <= params.NewLMRadius {
				maskedNeighbours++
			}
		}

		if len(inQ)+maskedNeighbours >= params.MSiPM && len(inQ) > 0 {
			c, err := barycenter(inXY, inQ)
			if err != nil {
				return nil, err
			}
			clusters = append(clusters, c)
		}
		// a seed that does not make a cluster still consumes its neighbours
		if len(inQ) == 0 {
			outXY = append(outXY[:0:0], xys[:hottest]...)
			outXY = append(outXY, xys[hottest+1:]...)
			outQ = append(outQ[:0:0], qs[:hottest]...)
			outQ = append(outQ, qs[hottest+1:]...)
		}
		xys, qs = outXY, outQ
	}

	if len(clusters) == 0 {
		return nil, ErrClusterEmpty
	}
	return clusters, nil
}

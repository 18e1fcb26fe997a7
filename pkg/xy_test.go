package cities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The channels entering the reconstruction are the eight live sensors of a
// 3x3 square that includes sensor 1003:
//
//	x - - - >
//	y | 5 5 5
//	  | X 7 5
//	  v 5 5 5
func maskedSquare(seed float64) ([][2]float64, []float64) {
	xys := [][2]float64{{-65, 5}, {-65, 25}, {-55, 5}, {-55, 15}, {-55, 25}, {-45, 5}, {-45, 15}, {-45, 25}}
	qs := []float64{seed - 2, seed - 2, seed - 2, seed, seed - 2, seed - 2, seed - 2, seed - 2}
	return xys, qs
}

func maskedSquareParams() XYParams {
	return XYParams{
		Qthr:           2,
		Qlm:            6,
		LMRadius:       0,
		NewLMRadius:    15,
		MSiPM:          9,
		ConsiderMasked: true,
	}
}

func TestComputeXYPosition_DependsOnRunNumber(t *testing.T) {
	db := createTestDB(t)
	xys, qs := maskedSquare(7)

	withMask, err := ComputeXYPosition(db, maskedRun, AlgoCorona, maskedSquareParams())
	require.NoError(t, err)
	clusters, err := withMask(xys, qs)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 8, clusters[0].Nsipm)
	assert.InDelta(t, 42.0, clusters[0].Q, 1e-9)

	// without the mask only eight sensors are around the seed
	withoutMask, err := ComputeXYPosition(db, maskedRun+1, AlgoCorona, maskedSquareParams())
	require.NoError(t, err)
	_, err = withoutMask(xys, qs)
	assert.ErrorIs(t, err, ErrClusterEmpty)
}

func TestComputeXYPosition_IgnoresMaskWhenNotConsidered(t *testing.T) {
	db := createTestDB(t)
	xys, qs := maskedSquare(7)
	params := maskedSquareParams()
	params.ConsiderMasked = false

	find, err := ComputeXYPosition(db, maskedRun, AlgoCorona, params)
	require.NoError(t, err)
	_, err = find(xys, qs)

	assert.ErrorIs(t, err, ErrClusterEmpty)
}

func TestCorona_SeedBelowQlm(t *testing.T) {
	xys, qs := maskedSquare(5)
	params := maskedSquareParams()
	params.MSiPM = 1

	_, err := corona(xys, qs, nil, params)

	assert.ErrorIs(t, err, ErrClusterEmpty)
}

func TestCorona_TwoClusters(t *testing.T) {
	xys := [][2]float64{{0, 0}, {10, 0}, {100, 0}, {110, 0}}
	qs := []float64{10, 4, 8, 8}
	params := XYParams{Qthr: 1, Qlm: 5, NewLMRadius: 15, MSiPM: 2}

	clusters, err := corona(xys, qs, nil, params)

	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.InDelta(t, 40.0/14, clusters[0].X, 1e-9)
	assert.InDelta(t, 14.0, clusters[0].Q, 1e-9)
	assert.InDelta(t, 105.0, clusters[1].X, 1e-9)
	assert.InDelta(t, 5.0, clusters[1].Xrms, 1e-9)
}

func TestComputeXYPosition_Barycenter(t *testing.T) {
	find, err := ComputeXYPosition(nil, 0, AlgoBarycenter, XYParams{Qthr: 1})
	require.NoError(t, err)

	clusters, err := find([][2]float64{{0, 0}, {10, 10}, {50, 50}}, []float64{1, 3, 0.5})

	require.NoError(t, err)
	require.Len(t, clusters, 1)
	c := clusters[0]
	assert.InDelta(t, 7.5, c.X, 1e-9)
	assert.InDelta(t, 7.5, c.Y, 1e-9)
	assert.InDelta(t, 4.0, c.Q, 1e-9)
	assert.Equal(t, 2, c.Nsipm)
	assert.InDelta(t, 10.0*0.4330127018922193, c.Xrms, 1e-9)
	assert.InDelta(t, 7.5*1.4142135623730951, c.R(), 1e-9)
}

func TestComputeXYPosition_UnknownAlgorithm(t *testing.T) {
	_, err := ComputeXYPosition(nil, 0, "max", XYParams{})

	assert.ErrorIs(t, err, ErrInvalidConfig)
}

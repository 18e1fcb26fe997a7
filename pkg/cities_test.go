package cities

import (
	"context"
	"testing"

	"github.com/next-exp/cities_go/pkg/dataflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventRows(t *testing.T, fname string) []int {
	t.Helper()
	file := readOutput(t, fname)
	var numbers []int
	for _, row := range readRows[EventDataHDF5](t, file, "Run/events") {
		numbers = append(numbers, int(row.evt_number))
	}
	return numbers
}

func runNumberOf(t *testing.T, fname string) int {
	t.Helper()
	rows := readRows[RunInfoHDF5](t, readOutput(t, fname), "Run/runInfo")
	require.Len(t, rows, 1)
	return int(rows[0].run_number)
}

func TestHitFilter(t *testing.T) {
	createTestDB(t)
	fin := tempPath(t, "hits.h5")
	writeHitsFixture(t, fin)
	fout := tempPath(t, "filtered.h5")

	result, err := HitFilter.Run(context.Background(), Params{
		ParamFilesIn: fin,
		ParamFileOut: fout,
	})

	require.NoError(t, err)
	assert.Equal(t, dataflow.Counters{Passed: 2, Failed: 1}, result.Counters)
	assert.Equal(t, []int{1, 3}, eventRows(t, fout))
	assert.Equal(t, -7000, runNumberOf(t, fout))
	file := readOutput(t, fout)
	hits := readRows[HitHDF5](t, file, "RECO/Events")
	assert.Len(t, hits, hitsPerEvent[1]+hitsPerEvent[3])
	kdst := readRows[KrEventHDF5](t, file, "DST/Events")
	require.Len(t, kdst, 2)
	assert.Equal(t, 300.0, kdst[1].S2e)
}

func TestHitFilter_MinHitsAndEventRange(t *testing.T) {
	createTestDB(t)
	fin := tempPath(t, "hits.h5")
	writeHitsFixture(t, fin)
	fout := tempPath(t, "filtered.h5")

	result, err := HitFilter.Run(context.Background(), Params{
		ParamFilesIn:    fin,
		ParamFileOut:    fout,
		ParamEventRange: []any{1, "last"},
		"min_hits":      2,
		"copy_mc":       false,
	})

	require.NoError(t, err)
	assert.Equal(t, dataflow.Counters{Passed: 1, Failed: 1}, result.Counters)
	assert.Equal(t, []int{3}, eventRows(t, fout))
}

func TestHitFilter_CopiesMCInfo(t *testing.T) {
	createTestDB(t)
	fin := tempPath(t, "hits.h5")
	createFixture(t, fin, func(out *OutputFile) {
		writeEventInfoFixture(t, out, nil, -maskedRun, 10, 11)
		appendFixture(t, out, "Run/eventMap",
			EventMapHDF5{evt_number: 10, nexus_evt: 0},
			EventMapHDF5{evt_number: 11, nexus_evt: 1},
		)
		appendFixture(t, out, "RECO/Events", HitHDF5{event: 11, E: 1})
		appendFixture(t, out, "DST/Events", KrEventHDF5{event: 10}, KrEventHDF5{event: 11})
		appendFixture(t, out, "MC/hits", MCHitHDF5{event_id: 0}, MCHitHDF5{event_id: 1}, MCHitHDF5{event_id: 1})
	})
	fout := tempPath(t, "filtered.h5")

	_, err := HitFilter.Run(context.Background(), Params{ParamFilesIn: fin, ParamFileOut: fout})

	require.NoError(t, err)
	file := readOutput(t, fout)
	mcHits := readRows[MCHitHDF5](t, file, "MC/hits")
	require.Len(t, mcHits, 2)
	assert.Equal(t, int64(1), mcHits[0].event_id)
	assert.Len(t, readRows[EventMapHDF5](t, file, "Run/eventMap"), 1)
	assert.Len(t, readRows[MCSensorPositionHDF5](t, file, "MC/sns_positions"), 2+len(sipmGrid))
}

func TestHitWriter_RequiresRunNumber(t *testing.T) {
	createFixture(t, tempPath(t, "out.h5"), func(out *OutputFile) {
		writer, err := newHitWriter(out)
		require.NoError(t, err)

		event := Event{
			KeyHits: HitCollection{EventNumber: 3, Timestamp: 30},
			KeyKdst: []KrEvent(nil),
		}
		assert.Error(t, writer.write(event))

		events, err := OpenTable[EventDataHDF5](out, "Run/events")
		require.NoError(t, err)
		assert.Zero(t, events.Len())
		assert.Empty(t, writer.kept)

		require.NoError(t, writer.write(event.With(KeyRunNumber, 7)))
		assert.Equal(t, 1, events.Len())
		assert.Equal(t, []int{3}, writer.kept)
		assert.Equal(t, 7, writer.runNumber)
	})
}

func TestXYReco(t *testing.T) {
	createTestDB(t)
	fin := tempPath(t, "rwf.h5")
	writeRwfFixture(t, fin, rwfFixture{run: maskedRun + 1, events: []int{0, 10}, nPmt: 1, nSipm: len(sipmGrid), nSamples: 1})
	fout := tempPath(t, "xy.h5")

	result, err := XYReco.Run(context.Background(), Params{
		ParamFilesIn:     fin,
		ParamFileOut:     fout,
		"sipm_threshold": 7.5,
	})

	require.NoError(t, err)
	assert.Equal(t, dataflow.Counters{Passed: 1, Failed: 1}, result.Counters)
	assert.Equal(t, []int{10}, eventRows(t, fout))
	rows := readRows[XYHDF5](t, readOutput(t, fout), "XY/Events")
	require.Len(t, rows, 1)
	assert.Equal(t, int32(10), rows[0].event)
	assert.Equal(t, int32(4), rows[0].nsipm)
	assert.InDelta(t, 64.0, rows[0].Q, 1e-9)
	assert.InDelta(t, -3190.0/64, rows[0].X, 1e-9)
	assert.InDelta(t, 1310.0/64, rows[0].Y, 1e-9)
}

func TestXYReco_SensorCountMismatch(t *testing.T) {
	createTestDB(t)
	fin := tempPath(t, "rwf.h5")
	writeRwfFixture(t, fin, rwfFixture{run: 1, events: []int{0}, nPmt: 1, nSipm: 2, nSamples: 1})

	_, err := XYReco.Run(context.Background(), Params{ParamFilesIn: fin, ParamFileOut: tempPath(t, "xy.h5")})

	assert.ErrorContains(t, err, "event has 2 SiPMs")
}

func TestPmapSelect(t *testing.T) {
	fin := tempPath(t, "pmaps.h5")
	writePmapFixture(t, fin)

	tests := []struct {
		name   string
		params Params
		want   []int
	}{
		{name: "one S1 one S2", params: Params{}, want: []int{0}},
		{name: "up to two S1", params: Params{"s1_nmax": 2}, want: []int{0, 2}},
		{name: "no peaks", params: Params{"s1_nmin": 0, "s1_nmax": 0, "s2_nmin": 0, "s2_nmax": 0}, want: []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fout := tempPath(t, "selected.h5")
			params := Params{ParamFilesIn: fin, ParamFileOut: fout}
			for k, v := range tt.params {
				params[k] = v
			}

			result, err := PmapSelect.Run(context.Background(), params)

			require.NoError(t, err)
			assert.Equal(t, len(tt.want), result.Counters.Passed)
			assert.Equal(t, 3, result.Counters.Total())
			assert.Equal(t, tt.want, eventRows(t, fout))
		})
	}
}

func TestPmapSelect_Summary(t *testing.T) {
	fin := tempPath(t, "pmaps.h5")
	writePmapFixture(t, fin)
	fout := tempPath(t, "selected.h5")

	_, err := PmapSelect.Run(context.Background(), Params{ParamFilesIn: fin, ParamFileOut: fout})

	require.NoError(t, err)
	rows := readRows[PmapSummaryHDF5](t, readOutput(t, fout), "PMAPS/Summary")
	require.Len(t, rows, 1)
	assert.Equal(t, PmapSummaryHDF5{event: 0, time: 0, nS1: 1, nS2: 1, S1e: 3, S2e: 60}, rows[0])
}

func TestPmapSelect_UnorderedRange(t *testing.T) {
	fin := tempPath(t, "pmaps.h5")
	writePmapFixture(t, fin)

	_, err := PmapSelect.Run(context.Background(), Params{
		ParamFilesIn: fin,
		ParamFileOut: tempPath(t, "selected.h5"),
		"s2_nmin":    3,
	})

	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSensorBuffers(t *testing.T) {
	createTestDB(t)
	fin := tempPath(t, "mc.h5")
	writeMCFixture(t, fin, true)
	fout := tempPath(t, "buffers.h5")

	result, err := SensorBuffers.Run(context.Background(), Params{
		ParamFilesIn: fin,
		ParamFileOut: fout,
		"run_number": -maskedRun,
		"rate":       0.5,
	})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Counters.Passed)
	assert.Equal(t, []int{0, 1, 2}, eventRows(t, fout))
	assert.Equal(t, -maskedRun, runNumberOf(t, fout))
	file := readOutput(t, fout)
	pmt := readRows[SensorBinHDF5](t, file, "Sensors/pmt_response")
	require.Len(t, pmt, 3)
	assert.Equal(t, int32(0), pmt[0].sensor_id)
	assert.Equal(t, 100.0, pmt[0].time)
	sipm := readRows[SensorBinHDF5](t, file, "Sensors/sipm_response")
	require.Len(t, sipm, 3)
	assert.Equal(t, 2000.0, sipm[2].time)
	assert.Equal(t, int32(2), sipm[2].event)
}

func TestSensorBuffers_RequiresRate(t *testing.T) {
	_, err := SensorBuffers.Run(context.Background(), Params{
		ParamFilesIn: tempPath(t, "mc.h5"),
		ParamFileOut: tempPath(t, "buffers.h5"),
		"run_number": 0,
	})

	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSensorWriter_RequiresResponses(t *testing.T) {
	createFixture(t, tempPath(t, "out.h5"), func(out *OutputFile) {
		writer, err := newSensorWriter(out, 1)
		require.NoError(t, err)

		event := Event{KeyEventNumber: 0, KeyTimestamp: 1.0, KeySipmResponse: []SensorBin(nil)}
		assert.Error(t, writer.write(event))
		assert.Error(t, writer.write(event.With(KeyPmtResponse, "not a response")))

		events, err := OpenTable[EventDataHDF5](out, "Run/events")
		require.NoError(t, err)
		assert.Zero(t, events.Len())

		require.NoError(t, writer.write(event.With(KeyPmtResponse, []SensorBin(nil))))
		assert.Equal(t, 1, events.Len())
		assert.Zero(t, writer.pmt.Len())
	})
}

func TestTrgSelect(t *testing.T) {
	fin := tempPath(t, "rwf.h5")
	f := rwfFixture{run: 8000, events: []int{0, 1, 2, 3}, nPmt: 2, nSipm: 3, nSamples: 5}
	writeRwfFixture(t, fin, f)
	fout := tempPath(t, "trg2.h5")

	result, err := TrgSelect.Run(context.Background(), Params{
		ParamFilesIn:   fin,
		ParamFileOut:   fout,
		"trigger_type": 2,
	})

	require.NoError(t, err)
	assert.Equal(t, dataflow.Counters{Passed: 2, Failed: 2}, result.Counters)

	// the output is itself a valid raw waveform file
	events, err := drain(WfFromFiles([]string{fout}, RWF))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, eventNumbers(t, events))
	for _, event := range events {
		n, _ := event.Int(KeyEventNumber)
		trigger, _ := event.Int(KeyTriggerType)
		assert.Equal(t, 2, trigger)
		pmt, err := Field[Waveforms](event, KeyPmt)
		require.NoError(t, err)
		assert.Equal(t, pmtSample(n, 1, 4), pmt.At(1, 4))
		run, _ := event.Int(KeyRunNumber)
		assert.Equal(t, 8000, run)
	}
}

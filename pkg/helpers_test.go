package cities

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	sqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

// recordingLogger keeps every message for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *recordingLogger) Info(message string, module string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, message)
}

func (l *recordingLogger) Warn(message string, module string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, message)
}

func (l *recordingLogger) Error(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, message)
}

func (l *recordingLogger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.warns)
}

func installRecordingLogger(t *testing.T) *recordingLogger {
	t.Helper()
	previous := logger
	rec := &recordingLogger{}
	SetLogger(rec)
	t.Cleanup(func() { SetLogger(previous) })
	return rec
}

// useConfiguration installs config for the duration of the test.
func useConfiguration(t *testing.T, config Configuration) {
	t.Helper()
	previous := GetConfiguration()
	SetConfiguration(config)
	t.Cleanup(func() { SetConfiguration(previous) })
}

func createFixture(t *testing.T, path string, write func(out *OutputFile)) {
	t.Helper()
	out, err := CreateOutputFile(path)
	require.NoError(t, err)
	write(out)
	require.NoError(t, out.Close())
}

func appendFixture[T any](t *testing.T, out *OutputFile, node string, rows ...T) {
	t.Helper()
	table, err := OpenTable[T](out, node)
	require.NoError(t, err)
	require.NoError(t, table.Append(rows...))
}

func skip(omit []string, node string) bool {
	return slices.Contains(omit, node)
}

// fixture timestamps are 1000 ms per event number
func writeEventInfoFixture(t *testing.T, out *OutputFile, omit []string, run int, events ...int) {
	t.Helper()
	if !skip(omit, "Run/runInfo") {
		appendFixture(t, out, "Run/runInfo", RunInfoHDF5{run_number: int32(run)})
	}
	if !skip(omit, "Run/events") {
		rows := make([]EventDataHDF5, len(events))
		for i, n := range events {
			rows[i] = EventDataHDF5{evt_number: int32(n), timestamp: uint64(1000 * n)}
		}
		appendFixture(t, out, "Run/events", rows...)
	}
}

type rwfFixture struct {
	run      int
	events   []int
	nPmt     int
	nSipm    int
	nSamples int
}

func pmtSample(event, sensor, sample int) int16 {
	return int16(event*100 + sensor*10 + sample)
}

func triggerTypeOf(event int) int {
	return 1 + event%2
}

// writeRwfFixture writes a raw waveform file. Nodes listed in omit are
// left out to build defective files.
func writeRwfFixture(t *testing.T, path string, f rwfFixture, omit ...string) {
	t.Helper()
	createFixture(t, path, func(out *OutputFile) {
		writeEventInfoFixture(t, out, omit, f.run, f.events...)
		for _, n := range f.events {
			if !skip(omit, "RD/pmtrwf") {
				data := make([]int16, f.nPmt*f.nSamples)
				for i := 0; i < f.nPmt; i++ {
					for s := 0; s < f.nSamples; s++ {
						data[i*f.nSamples+s] = pmtSample(n, i, s)
					}
				}
				array, err := OpenArray(out, "RD/pmtrwf", f.nPmt, f.nSamples)
				require.NoError(t, err)
				require.NoError(t, array.Append(data))
			}
			if !skip(omit, "RD/sipmrwf") {
				data := make([]int16, f.nSipm*f.nSamples)
				for i := 0; i < f.nSipm; i++ {
					for s := 0; s < f.nSamples; s++ {
						data[i*f.nSamples+s] = int16(n + i)
					}
				}
				array, err := OpenArray(out, "RD/sipmrwf", f.nSipm, f.nSamples)
				require.NoError(t, err)
				require.NoError(t, array.Append(data))
			}
			if !skip(omit, "Trigger/trigger") {
				appendFixture(t, out, "Trigger/trigger", TriggerTypeHDF5{trigger_type: int32(triggerTypeOf(n))})
			}
			if !skip(omit, "Trigger/events") {
				channels := make([]int16, NTriggerChannels)
				channels[n%NTriggerChannels] = 1
				array, err := OpenArray(out, "Trigger/events", NTriggerChannels)
				require.NoError(t, err)
				require.NoError(t, array.Append(channels))
			}
		}
	})
}

// writePmapFixture writes three events: 0 with one S1 and one S2 seen by
// two SiPMs, 1 without peaks and 2 with two S1 and one S2.
func writePmapFixture(t *testing.T, path string, omit ...string) {
	t.Helper()
	createFixture(t, path, func(out *OutputFile) {
		writeEventInfoFixture(t, out, omit, 7000, 0, 1, 2)
		if !skip(omit, "PMAPS/S1") {
			appendFixture(t, out, "PMAPS/S1",
				PeakHDF5{event: 0, peak: 0, time: 100, ene: 1},
				PeakHDF5{event: 0, peak: 0, time: 125, ene: 2},
				PeakHDF5{event: 2, peak: 0, time: 100, ene: 3},
				PeakHDF5{event: 2, peak: 1, time: 300, ene: 4},
			)
		}
		if !skip(omit, "PMAPS/S2") {
			appendFixture(t, out, "PMAPS/S2",
				PeakHDF5{event: 0, peak: 0, time: 1000, ene: 10},
				PeakHDF5{event: 0, peak: 0, time: 2000, ene: 20},
				PeakHDF5{event: 0, peak: 0, time: 3000, ene: 30},
				PeakHDF5{event: 2, peak: 0, time: 1000, ene: 50},
			)
		}
		if !skip(omit, "PMAPS/S2Si") {
			appendFixture(t, out, "PMAPS/S2Si",
				PeakSiPMHDF5{event: 0, peak: 0, nsipm: 1000, ene: 1},
				PeakSiPMHDF5{event: 0, peak: 0, nsipm: 1000, ene: 2},
				PeakSiPMHDF5{event: 0, peak: 0, nsipm: 1001, ene: 4},
				PeakSiPMHDF5{event: 2, peak: 0, nsipm: 1002, ene: 5},
			)
		}
	})
}

// hitsPerEvent of the hits fixture, whose events are 1, 2 and 3.
var hitsPerEvent = map[int]int{1: 3, 2: 0, 3: 2}

func writeHitsFixture(t *testing.T, path string, omit ...string) {
	t.Helper()
	createFixture(t, path, func(out *OutputFile) {
		writeEventInfoFixture(t, out, omit, -7000, 1, 2, 3)
		var hits []HitHDF5
		var kdst []KrEventHDF5
		for _, n := range []int{1, 2, 3} {
			for i := 0; i < hitsPerEvent[n]; i++ {
				hits = append(hits, HitHDF5{event: int32(n), time: float64(1000 * n), npeak: 0, X: float64(i), Y: -float64(i), Z: 10 * float64(i), E: 1})
			}
			kdst = append(kdst, KrEventHDF5{event: int32(n), time: float64(1000 * n), nS1: 1, nS2: 1, S2e: 100 * float64(n), X: 1, Y: 2, Z: 3})
		}
		if !skip(omit, "RECO/Events") {
			appendFixture(t, out, "RECO/Events", hits...)
		}
		if !skip(omit, "DST/Events") {
			appendFixture(t, out, "DST/Events", kdst...)
		}
	})
}

func mcConfig(key, value string) MCConfigurationHDF5 {
	var row MCConfigurationHDF5
	copy(row.param_key[:], key)
	copy(row.param_value[:], value)
	return row
}

// writeMCFixture writes a simulation file with events 0, 1 and 2 mapped to
// event numbers 10, 11 and 12. With binning false the configuration lacks
// the sensor binning.
func writeMCFixture(t *testing.T, path string, binning bool) {
	t.Helper()
	createFixture(t, path, func(out *OutputFile) {
		writeEventInfoFixture(t, out, nil, -6977, 10, 11, 12)
		appendFixture(t, out, "Run/eventMap",
			EventMapHDF5{evt_number: 10, nexus_evt: 0},
			EventMapHDF5{evt_number: 11, nexus_evt: 1},
			EventMapHDF5{evt_number: 12, nexus_evt: 2},
		)
		config := []MCConfigurationHDF5{mcConfig("/nexus/RegisterMacro", "detector.mac")}
		if binning {
			config = append(config,
				mcConfig("/Geometry/PmtR11410/binning", "25 ns"),
				mcConfig("/Geometry/SiPM/binning", "1 mus"),
			)
		}
		appendFixture(t, out, "MC/configuration", config...)

		var hits []MCHitHDF5
		var particles []MCParticleHDF5
		var responses []MCSensorResponseHDF5
		for id := int64(0); id < 3; id++ {
			hit := MCHitHDF5{event_id: id, x: float32(id), energy: 0.5, hit_id: 0}
			copy(hit.label[:], "ACTIVE")
			hits = append(hits, hit, MCHitHDF5{event_id: id, hit_id: 1})
			particle := MCParticleHDF5{event_id: id, particle_id: 1, primary: 1, kin_energy: 2.45}
			copy(particle.particle_name[:], "e-")
			particles = append(particles, particle)
			responses = append(responses,
				MCSensorResponseHDF5{event_id: id, sensor_id: 0, time_bin: 4, charge: 10},
				MCSensorResponseHDF5{event_id: id, sensor_id: 1000, time_bin: 2, charge: 3},
			)
		}
		appendFixture(t, out, "MC/hits", hits...)
		appendFixture(t, out, "MC/particles", particles...)
		appendFixture(t, out, "MC/sns_response", responses...)
		position := MCSensorPositionHDF5{sensor_id: 0}
		copy(position.sensor_name[:], "PmtR11410")
		appendFixture(t, out, "MC/sns_positions", position)
	})
}

// sipmGrid is a 3x3 grid with 10 mm pitch. Sensor 1003, at (-65, 15), is
// masked in run 6977 only.
var sipmGrid = []SensorPosition{
	{SensorID: 1000, X: -65, Y: 5},
	{SensorID: 1001, X: -55, Y: 5},
	{SensorID: 1002, X: -45, Y: 5},
	{SensorID: 1003, X: -65, Y: 15},
	{SensorID: 1004, X: -55, Y: 15},
	{SensorID: 1005, X: -45, Y: 15},
	{SensorID: 1006, X: -65, Y: 25},
	{SensorID: 1007, X: -55, Y: 25},
	{SensorID: 1008, X: -45, Y: 25},
}

const maskedRun = 6977

// createTestDB builds a sqlite detector database named "new" in a temp dir
// and points the configuration at it.
func createTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := CreateLocalDatabase(dir, DefaultDetectorDB)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for i, pmt := range []SensorPosition{{SensorID: 0, X: 0, Y: 0}, {SensorID: 1, X: 10, Y: 0}} {
		_, err := db.Exec("INSERT INTO DataPMT (SensorID, ChannelID, X, Y, MinRun, MaxRun) VALUES (?, ?, ?, ?, 0, 100000)",
			pmt.SensorID, i, pmt.X, pmt.Y)
		require.NoError(t, err)
	}
	for i, sipm := range sipmGrid {
		_, err := db.Exec("INSERT INTO DataSiPM (SensorID, ChannelID, X, Y, MinRun, MaxRun) VALUES (?, ?, ?, ?, 0, 100000)",
			sipm.SensorID, 100+i, sipm.X, sipm.Y)
		require.NoError(t, err)
	}
	_, err = db.Exec("INSERT INTO ChannelMask (SensorID, MinRun, MaxRun) VALUES (1003, ?, ?)", maskedRun, maskedRun)
	require.NoError(t, err)

	config := DefaultConfiguration()
	config.Database = DatabaseConfig{Driver: "sqlite", Dir: dir}
	useConfiguration(t, config)
	return db
}

func tempPath(t *testing.T, name string) string {
	return filepath.Join(t.TempDir(), name)
}

func eventNumbers(t *testing.T, events []Event) []int {
	t.Helper()
	numbers := make([]int, len(events))
	for i, e := range events {
		n, err := e.Int(KeyEventNumber)
		require.NoError(t, err, fmt.Sprintf("event %d", i))
		numbers[i] = n
	}
	return numbers
}

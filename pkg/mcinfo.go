package cities

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	sqlx "github.com/jmoiron/sqlx"
	"gonum.org/v1/hdf5"
)

var timeUnits = map[string]float64{
	"ps":  1e-3,
	"ns":  1,
	"mus": 1e3,
	"us":  1e3,
	"ms":  1e6,
	"s":   1e9,
}

// parseDuration reads values such as "1 mus" or "25.0 ns" into ns.
func parseDuration(value string) (float64, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return 0, fmt.Errorf("malformed duration %q", value)
	}
	number, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed duration %q: %w", value, err)
	}
	unit, ok := timeUnits[fields[1]]
	if !ok {
		return 0, fmt.Errorf("unknown time unit in %q", value)
	}
	return number * unit, nil
}

// sensorBinning finds the PMT and SiPM time bins, in ns, in a simulation
// configuration table.
func sensorBinning(config []MCConfigurationHDF5) (pmt float64, sipm float64, ok bool) {
	for _, row := range config {
		key := convertFromHdf5String(row.param_key[:])
		if !strings.Contains(strings.ToLower(key), "binning") {
			continue
		}
		width, err := parseDuration(convertFromHdf5String(row.param_value[:]))
		if err != nil {
			warn(fmt.Sprintf("Ignoring binning %q: %v", key, err), "mcinfo")
			continue
		}
		switch {
		case strings.Contains(key, "SiPM"):
			sipm = width
		case strings.Contains(strings.ToLower(key), "pmt"):
			pmt = width
		}
	}
	return pmt, sipm, pmt > 0 && sipm > 0
}

// CopyMCInfo copies the simulation tables of the selected events from
// filesIn into out. eventNumbers are event numbers as found in Run/events;
// Run/eventMap translates them to simulation event ids when present.
// Inputs without an MC group are skipped with a warning. Sensor positions
// missing from the inputs are taken from db for runNumber.
func CopyMCInfo(filesIn []string, out *OutputFile, eventNumbers []int, db *sqlx.DB, runNumber int) error {
	selected := make(map[int]bool, len(eventNumbers))
	for _, n := range eventNumbers {
		selected[n] = true
	}

	for _, fname := range filesIn {
		file, err := openInputFile(fname)
		if err != nil {
			return err
		}
		err = copyMCInfoFromFile(file, fname, out, selected)
		if closeErr := file.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("error closing %s: %w", fname, closeErr))
		}
		if err != nil {
			return err
		}
	}

	if out.HasNode("MC") && !out.HasNode("MC/sns_positions") && db != nil {
		return writeSensorPositions(out, db, runNumber)
	}
	return nil
}

func copyMCInfoFromFile(file *hdf5.File, fname string, out *OutputFile, selected map[int]bool) error {
	if !nodeExists(file, "MC") {
		warn(fmt.Sprintf("File %s does not contain MC info", fname), "mcinfo")
		return nil
	}

	mcIDs := make(map[int64]bool, len(selected))
	if nodeExists(file, "Run/eventMap") {
		eventMap, err := readTable[EventMapHDF5](file, fname, "Run/eventMap")
		if err != nil {
			return err
		}
		var kept []EventMapHDF5
		for _, row := range eventMap {
			if selected[int(row.evt_number)] {
				kept = append(kept, row)
				mcIDs[int64(row.nexus_evt)] = true
			}
		}
		if err := appendRows(out, "Run/eventMap", kept); err != nil {
			return err
		}
	} else {
		for n := range selected {
			mcIDs[int64(n)] = true
		}
	}

	if err := copySelected(file, fname, out, "MC/hits", mcIDs, func(r MCHitHDF5) int64 { return r.event_id }); err != nil {
		return err
	}
	if err := copySelected(file, fname, out, "MC/particles", mcIDs, func(r MCParticleHDF5) int64 { return r.event_id }); err != nil {
		return err
	}
	if err := copySelected(file, fname, out, "MC/sns_response", mcIDs, func(r MCSensorResponseHDF5) int64 { return r.event_id }); err != nil {
		return err
	}
	// tables that describe the whole simulation are copied from the first
	// input only
	if err := copyOnce[MCSensorPositionHDF5](file, fname, out, "MC/sns_positions"); err != nil {
		return err
	}
	return copyOnce[MCConfigurationHDF5](file, fname, out, "MC/configuration")
}

func appendRows[T any](out *OutputFile, path string, rows []T) error {
	table, err := OpenTable[T](out, path)
	if err != nil {
		return err
	}
	return table.Append(rows...)
}

func copySelected[T any](file *hdf5.File, fname string, out *OutputFile, path string, ids map[int64]bool, eventID func(T) int64) error {
	if !nodeExists(file, path) {
		return nil
	}
	rows, err := readTable[T](file, fname, path)
	if err != nil {
		return err
	}
	var kept []T
	for _, row := range rows {
		if ids[eventID(row)] {
			kept = append(kept, row)
		}
	}
	return appendRows(out, path, kept)
}

func copyOnce[T any](file *hdf5.File, fname string, out *OutputFile, path string) error {
	if !nodeExists(file, path) || out.HasNode(path) {
		return nil
	}
	rows, err := readTable[T](file, fname, path)
	if err != nil {
		return err
	}
	return appendRows(out, path, rows)
}

func writeSensorPositions(out *OutputFile, db *sqlx.DB, runNumber int) error {
	var rows []MCSensorPositionHDF5
	for _, sensor := range []struct {
		name string
		get  func(*sqlx.DB, int) ([]SensorPosition, error)
	}{{"PmtR11410", DataPMT}, {"SiPM", DataSiPM}} {
		positions, err := sensor.get(db, runNumber)
		if err != nil {
			return fmt.Errorf("error reading sensor positions: %w", err)
		}
		for _, p := range positions {
			row := MCSensorPositionHDF5{sensor_id: int32(p.SensorID), x: float32(p.X), y: float32(p.Y)}
			copy(row.sensor_name[:], sensor.name)
			rows = append(rows, row)
		}
	}
	return appendRows(out, "MC/sns_positions", rows)
}

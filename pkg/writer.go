package cities

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"gonum.org/v1/hdf5"
)

// OutputFile is an HDF5 file being written by a city. Groups and datasets
// are created on first use and released together by Close.
type OutputFile struct {
	File     *hdf5.File
	Filename string
	// CompressionLevel is the deflate level of datasets created from now
	// on. Zero disables compression.
	CompressionLevel int

	groups       map[string]*hdf5.Group
	groupOrder   []string
	datasets     map[string]interface{ Close() error }
	datasetOrder []string
	closed       bool
}

func CreateOutputFile(filename string) (*OutputFile, error) {
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Creating file: %s", filename), "writer")
	}
	file, err := hdf5.CreateFile(filename, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, &ErrOpenFile{Filename: filename, Err: err}
	}
	return &OutputFile{
		File:             file,
		Filename:         filename,
		CompressionLevel: configuration.CompressionLevel,
		groups:           make(map[string]*hdf5.Group),
		datasets:         make(map[string]interface{ Close() error }),
	}, nil
}

// Closed reports whether Close has been called.
func (w *OutputFile) Closed() bool {
	return w.closed
}

// Group returns the group at path, creating it and its parents if needed.
func (w *OutputFile) Group(groupPath string) (*hdf5.Group, error) {
	groupPath = strings.Trim(groupPath, "/")
	if groupPath == "" {
		return nil, &ErrCreateGroup{GroupName: groupPath, Err: errors.New("empty group name")}
	}
	if g, ok := w.groups[groupPath]; ok {
		return g, nil
	}

	parent, name := path.Split(groupPath)
	parent = strings.TrimSuffix(parent, "/")
	var group *hdf5.Group
	var err error
	if parent == "" {
		group, err = w.File.CreateGroup(name)
	} else {
		var parentGroup *hdf5.Group
		parentGroup, err = w.Group(parent)
		if err != nil {
			return nil, err
		}
		group, err = parentGroup.CreateGroup(name)
	}
	if err != nil {
		return nil, &ErrCreateGroup{GroupName: groupPath, Err: err}
	}
	w.groups[groupPath] = group
	w.groupOrder = append(w.groupOrder, groupPath)
	return group, nil
}

func (w *OutputFile) HasNode(nodePath string) bool {
	if _, ok := w.datasets[strings.Trim(nodePath, "/")]; ok {
		return true
	}
	_, ok := w.groups[strings.Trim(nodePath, "/")]
	return ok
}

func splitNode(nodePath string) (string, string, error) {
	nodePath = strings.Trim(nodePath, "/")
	dir, name := path.Split(nodePath)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" || name == "" {
		return "", "", fmt.Errorf("node %q must live inside a group", nodePath)
	}
	return dir, name, nil
}

// Table is an extensible one-dimensional table of rows of type T.
type Table[T any] struct {
	dset *hdf5.Dataset
	path string
	rows uint
}

func (t *Table[T]) Append(rows ...T) error {
	if err := appendToDataset(t.dset, &rows, uint(len(rows)), nil, t.rows); err != nil {
		return fmt.Errorf("error writing to table %q: %w", t.path, err)
	}
	t.rows += uint(len(rows))
	return nil
}

func (t *Table[T]) Len() int {
	return int(t.rows)
}

func (t *Table[T]) Close() error {
	return t.dset.Close()
}

// OpenTable returns the table at path in w, creating it on first use.
func OpenTable[T any](w *OutputFile, nodePath string) (*Table[T], error) {
	nodePath = strings.Trim(nodePath, "/")
	if existing, ok := w.datasets[nodePath]; ok {
		table, ok := existing.(*Table[T])
		if !ok {
			return nil, &ErrCreateTable{TableName: nodePath, Err: fmt.Errorf("node already holds a %T", existing)}
		}
		return table, nil
	}

	dir, name, err := splitNode(nodePath)
	if err != nil {
		return nil, &ErrCreateTable{TableName: nodePath, Err: err}
	}
	group, err := w.Group(dir)
	if err != nil {
		return nil, err
	}
	var proto T
	dset, err := createTable(group, name, proto, w.CompressionLevel)
	if err != nil {
		return nil, err
	}
	table := &Table[T]{dset: dset, path: nodePath}
	w.datasets[nodePath] = table
	w.datasetOrder = append(w.datasetOrder, nodePath)
	return table, nil
}

// Array is an extensible int16 array whose first dimension is the event.
type Array struct {
	dset  *hdf5.Dataset
	path  string
	shape []uint
	size  int
	rows  uint
}

// Append writes one event. data must hold exactly one event in row-major
// order.
func (a *Array) Append(data []int16) error {
	if len(data) != a.size {
		return fmt.Errorf("error writing to array %q: got %d values, want %d", a.path, len(data), a.size)
	}
	if err := appendToDataset(a.dset, &data, 1, a.shape, a.rows); err != nil {
		return fmt.Errorf("error writing to array %q: %w", a.path, err)
	}
	a.rows++
	return nil
}

func (a *Array) Len() int {
	return int(a.rows)
}

func (a *Array) Close() error {
	return a.dset.Close()
}

// OpenArray returns the array at path in w, creating it on first use with
// the given per-event shape.
func OpenArray(w *OutputFile, nodePath string, shape ...int) (*Array, error) {
	nodePath = strings.Trim(nodePath, "/")
	dims := make([]uint, len(shape))
	size := 1
	for i, n := range shape {
		dims[i] = uint(n)
		size *= n
	}

	if existing, ok := w.datasets[nodePath]; ok {
		array, ok := existing.(*Array)
		if !ok || array.size != size || len(array.shape) != len(dims) {
			return nil, &ErrCreateTable{TableName: nodePath, Err: fmt.Errorf("node already holds an incompatible %T", existing)}
		}
		return array, nil
	}

	dir, name, err := splitNode(nodePath)
	if err != nil {
		return nil, &ErrCreateTable{TableName: nodePath, Err: err}
	}
	group, err := w.Group(dir)
	if err != nil {
		return nil, err
	}
	dset, err := createArray(group, name, dims, w.CompressionLevel)
	if err != nil {
		return nil, err
	}
	array := &Array{dset: dset, path: nodePath, shape: dims, size: size}
	w.datasets[nodePath] = array
	w.datasetOrder = append(w.datasetOrder, nodePath)
	return array, nil
}

// Close releases every dataset and group, then the file. It is safe to
// call more than once.
func (w *OutputFile) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Closing file: %s", w.Filename), "writer")
	}

	var errs []error
	for _, name := range w.datasetOrder {
		if err := w.datasets[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing dataset %s: %w", name, err))
		}
	}
	// children before parents
	for i := len(w.groupOrder) - 1; i >= 0; i-- {
		name := w.groupOrder[i]
		if err := w.groups[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing group %s: %w", name, err))
		}
	}
	if err := w.File.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing file: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EventInfoWriter writes Run/events for every event and Run/runInfo once,
// on the first event.
type EventInfoWriter struct {
	out      *OutputFile
	FirstEvt bool
}

func NewEventInfoWriter(out *OutputFile) *EventInfoWriter {
	return &EventInfoWriter{out: out}
}

func (w *EventInfoWriter) Write(runNumber int, eventNumber int, timestamp float64) error {
	if !w.FirstEvt {
		runInfo, err := OpenTable[RunInfoHDF5](w.out, "Run/runInfo")
		if err != nil {
			return err
		}
		if err := runInfo.Append(RunInfoHDF5{run_number: int32(runNumber)}); err != nil {
			return err
		}
		w.FirstEvt = true
	}

	events, err := OpenTable[EventDataHDF5](w.out, "Run/events")
	if err != nil {
		return err
	}
	return events.Append(EventDataHDF5{
		evt_number: int32(eventNumber),
		timestamp:  uint64(timestamp),
	})
}

// WriteEvent writes the event info of an event record.
func (w *EventInfoWriter) WriteEvent(event Event) error {
	run, err := event.Int(KeyRunNumber)
	if err != nil {
		return err
	}
	number, err := event.Int(KeyEventNumber)
	if err != nil {
		return err
	}
	timestamp, err := event.Float(KeyTimestamp)
	if err != nil {
		return err
	}
	return w.Write(run, number, timestamp)
}

// writeConfiguration stores params as a variable/value table at
// config/<name>.
func writeConfiguration(out *OutputFile, name string, params map[string]string, order []string) error {
	entries := make([]ConfigParamHDF5, len(order))
	for i, key := range order {
		copy(entries[i].variable[:], key)
		copy(entries[i].value[:], params[key])
	}
	table, err := OpenTable[ConfigParamHDF5](out, path.Join("config", name))
	if err != nil {
		return err
	}
	return table.Append(entries...)
}

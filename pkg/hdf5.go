package cities

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/hdf5"
)

// Row layouts of the tables cities read and write. Field names are the
// column names on disk.

type EventDataHDF5 struct {
	evt_number int32
	timestamp  uint64
}

type RunInfoHDF5 struct {
	run_number int32
}

type EventMapHDF5 struct {
	evt_number int32
	nexus_evt  int32
}

type TriggerTypeHDF5 struct {
	trigger_type int32
}

type PeakHDF5 struct {
	event int32
	peak  int32
	time  float32
	ene   float32
}

type PeakSiPMHDF5 struct {
	event int32
	peak  int32
	nsipm int32
	ene   float32
}

type HitHDF5 struct {
	event int32
	time  float64
	npeak uint16
	Xpeak float64
	Ypeak float64
	nsipm uint16
	X     float64
	Y     float64
	Xrms  float64
	Yrms  float64
	Z     float64
	Q     float64
	E     float64
}

type KrEventHDF5 struct {
	event   int32
	time    float64
	s1_peak uint16
	s2_peak uint16
	nS1     uint16
	nS2     uint16
	S1e     float64
	S1t     float64
	S2e     float64
	S2q     float64
	S2t     float64
	Nsipm   uint16
	X       float64
	Y       float64
	R       float64
	Phi     float64
	Z       float64
}

const STRLEN = 20

type MCHitHDF5 struct {
	event_id    int64
	x           float32
	y           float32
	z           float32
	time        float32
	energy      float32
	label       [STRLEN]byte
	particle_id int32
	hit_id      int32
}

type MCParticleHDF5 struct {
	event_id      int64
	particle_id   int32
	particle_name [STRLEN]byte
	primary       int8
	mother_id     int32
	initial_x     float32
	initial_y     float32
	initial_z     float32
	initial_t     float32
	final_x       float32
	final_y       float32
	final_z       float32
	final_t       float32
	kin_energy    float32
}

type MCSensorPositionHDF5 struct {
	sensor_id   int32
	sensor_name [STRLEN]byte
	x           float32
	y           float32
	z           float32
}

type MCSensorResponseHDF5 struct {
	event_id  int64
	sensor_id int32
	time_bin  int32
	charge    int32
}

const PARAMLEN = 100
const VALUELEN = 256

type MCConfigurationHDF5 struct {
	param_key   [PARAMLEN]byte
	param_value [VALUELEN]byte
}

type ConfigParamHDF5 struct {
	variable [PARAMLEN]byte
	value    [VALUELEN]byte
}

type XYHDF5 struct {
	event int32
	time  float64
	X     float64
	Y     float64
	Xrms  float64
	Yrms  float64
	Q     float64
	nsipm int32
}

type PmapSummaryHDF5 struct {
	event int32
	time  float64
	nS1   int32
	nS2   int32
	S1e   float64
	S2e   float64
}

type SensorBinHDF5 struct {
	event     int32
	timestamp float64
	sensor_id int32
	time      float64
	charge    float64
}

func convertFromHdf5String(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func openInputFile(fname string) (*hdf5.File, error) {
	if _, err := os.Stat(fname); err != nil {
		return nil, &ErrOpenFile{Filename: fname, Err: err}
	}
	f, err := hdf5.OpenFile(fname, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, &ErrOpenFile{Filename: fname, Err: err}
	}
	return f, nil
}

// nodeExists walks path one link at a time, so a missing intermediate group
// is reported as absent instead of as a library error.
func nodeExists(f *hdf5.File, path string) bool {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := range parts {
		if !f.LinkExists(strings.Join(parts[:i+1], "/")) {
			return false
		}
	}
	return true
}

func requireNodes(f *hdf5.File, fname string, paths ...string) error {
	for _, path := range paths {
		if !nodeExists(f, path) {
			return &ErrInvalidInputFileStructure{Filename: fname, Node: path}
		}
	}
	return nil
}

func datasetDims(dset *hdf5.Dataset) ([]uint, error) {
	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	return dims, err
}

// readTable loads a whole table. A missing table is a structure error.
func readTable[T any](f *hdf5.File, fname string, path string) ([]T, error) {
	if !nodeExists(f, path) {
		return nil, &ErrInvalidInputFileStructure{Filename: fname, Node: path}
	}
	dset, err := f.OpenDataset(path)
	if err != nil {
		return nil, &ErrReadTable{Filename: fname, TableName: path, Err: err}
	}
	defer dset.Close()

	dims, err := datasetDims(dset)
	if err != nil {
		return nil, &ErrReadTable{Filename: fname, TableName: path, Err: err}
	}
	if len(dims) != 1 {
		return nil, &ErrInvalidInputFileStructure{Filename: fname, Node: path}
	}
	// The slice MUST be allocated with its final length before reading
	rows := make([]T, dims[0])
	if len(rows) == 0 {
		return rows, nil
	}
	if err := dset.Read(&rows); err != nil {
		return nil, &ErrReadTable{Filename: fname, TableName: path, Err: err}
	}
	return rows, nil
}

// ArrayReader reads one event at a time from an [event, ...] array.
type ArrayReader struct {
	dset  *hdf5.Dataset
	dims  []uint
	fname string
	path  string
}

func openArray(f *hdf5.File, fname string, path string, rank int) (*ArrayReader, error) {
	if !nodeExists(f, path) {
		return nil, &ErrInvalidInputFileStructure{Filename: fname, Node: path}
	}
	dset, err := f.OpenDataset(path)
	if err != nil {
		return nil, &ErrReadTable{Filename: fname, TableName: path, Err: err}
	}
	dims, err := datasetDims(dset)
	if err != nil {
		dset.Close()
		return nil, &ErrReadTable{Filename: fname, TableName: path, Err: err}
	}
	if len(dims) != rank {
		dset.Close()
		return nil, &ErrInvalidInputFileStructure{Filename: fname, Node: path}
	}
	return &ArrayReader{dset: dset, dims: dims, fname: fname, path: path}, nil
}

// Len is the number of events in the array.
func (a *ArrayReader) Len() int {
	return int(a.dims[0])
}

// Shape is the per-event shape.
func (a *ArrayReader) Shape() []int {
	shape := make([]int, len(a.dims)-1)
	for i, d := range a.dims[1:] {
		shape[i] = int(d)
	}
	return shape
}

func (a *ArrayReader) ReadEvent(index int) ([]int16, error) {
	count := make([]uint, len(a.dims))
	start := make([]uint, len(a.dims))
	count[0] = 1
	size := 1
	for i, d := range a.dims[1:] {
		count[i+1] = d
		size *= int(d)
	}
	start[0] = uint(index)

	data := make([]int16, size)
	if size == 0 {
		return data, nil
	}
	filespace := a.dset.Space()
	defer filespace.Close()
	if err := filespace.SelectHyperslab(start, nil, count, nil); err != nil {
		return nil, &ErrReadTable{Filename: a.fname, TableName: a.path, Err: err}
	}
	memspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return nil, &ErrReadTable{Filename: a.fname, TableName: a.path, Err: err}
	}
	defer memspace.Close()
	if err := a.dset.ReadSubset(&data, memspace, filespace); err != nil {
		return nil, &ErrReadTable{Filename: a.fname, TableName: a.path, Err: err}
	}
	return data, nil
}

func (a *ArrayReader) Close() error {
	return a.dset.Close()
}

func createDatasetPropList(chunks []uint, compression int) (*hdf5.PropList, error) {
	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, err
	}
	if err := plist.SetChunk(chunks); err != nil {
		plist.Close()
		return nil, err
	}
	if compression > 0 {
		if err := plist.SetDeflate(compression); err != nil {
			plist.Close()
			return nil, err
		}
	}
	return plist, nil
}

func createTable(group *hdf5.Group, name string, datatype interface{}, compression int) (*hdf5.Dataset, error) {
	dims := []uint{0}
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	maxDims := []uint{uint(unlimitedDims)}
	fileSpace, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer fileSpace.Close()

	plist, err := createDatasetPropList([]uint{32768}, compression)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plist.Close()

	// create the memory data type
	dtype, err := hdf5.NewDatatypeFromValue(datatype)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer dtype.Close()

	dset, err := group.CreateDatasetWith(name, dtype, fileSpace, plist)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dset, nil
}

func createArray(group *hdf5.Group, name string, perEvent []uint, compression int) (*hdf5.Dataset, error) {
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	dims := make([]uint, len(perEvent)+1)
	maxDims := append([]uint{uint(unlimitedDims)}, perEvent...)
	chunks := append([]uint{1}, perEvent...)
	for i, n := range chunks {
		if n == 0 {
			chunks[i] = 1
		}
	}
	fileSpace, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer fileSpace.Close()

	plist, err := createDatasetPropList(chunks, compression)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plist.Close()

	dset, err := group.CreateDatasetWith(name, hdf5.T_NATIVE_INT16, fileSpace, plist)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dset, nil
}

// appendToDataset grows the first dimension of dataset by len(data)/rowSize
// rows and writes data at the end. rowShape is the shape of one row.
func appendToDataset[T any](dataset *hdf5.Dataset, data *[]T, nRows uint, rowShape []uint, rowsInFile uint) error {
	if nRows == 0 {
		return nil
	}
	newsize := append([]uint{rowsInFile + nRows}, rowShape...)
	if err := dataset.Resize(newsize); err != nil {
		return err
	}
	filespace := dataset.Space()
	defer filespace.Close()

	start := make([]uint, len(newsize))
	start[0] = rowsInFile
	count := append([]uint{nRows}, rowShape...)
	if err := filespace.SelectHyperslab(start, nil, count, nil); err != nil {
		return err
	}

	dataspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return err
	}
	defer dataspace.Close()

	return dataset.WriteSubset(data, dataspace, filespace)
}

func closeAll(closers ...interface{ Close() error }) error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing hdf5 object: %w", err))
		}
	}
	return errors.Join(errs...)
}

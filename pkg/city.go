package cities

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlx "github.com/jmoiron/sqlx"
	"github.com/next-exp/cities_go/pkg/dataflow"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/exp/slices"
)

// Names of the parameters every city understands.
const (
	ParamFilesIn          = "files_in"
	ParamFileOut          = "file_out"
	ParamEventRange       = "event_range"
	ParamDetectorDB       = "detector_db"
	ParamCompressionLevel = "compression_level"
)

// Param declares a parameter a city accepts. A Required parameter has no
// default; otherwise Default is used when the caller omits it.
type Param struct {
	Name     string
	Required bool
	Default  any
}

// DetectorDBParam declares the detector database a city reads.
var DetectorDBParam = Param{Name: ParamDetectorDB, Default: DefaultDetectorDB}

var standardParams = []Param{
	{Name: ParamFilesIn, Required: true},
	{Name: ParamFileOut, Required: true},
	{Name: ParamEventRange, Default: All},
	{Name: ParamCompressionLevel},
}

// Params are the arguments of a city run, as read from a configuration
// file.
type Params map[string]any

// CityFunc is the processing function of a city. It reads conf.FilesIn and
// writes into conf.Out, which the city owns.
type CityFunc func(ctx context.Context, conf *Conf) (dataflow.Counters, error)

type City struct {
	Name   string
	fn     CityFunc
	params map[string]Param
	order  []string
}

// NewCity wraps fn with the standard parameters and the extra ones given.
func NewCity(name string, fn CityFunc, params ...Param) *City {
	c := &City{Name: name, fn: fn, params: make(map[string]Param)}
	for _, p := range append(slices.Clone(standardParams), params...) {
		if _, ok := c.params[p.Name]; !ok {
			c.order = append(c.order, p.Name)
		}
		c.params[p.Name] = p
	}
	return c
}

// Declares reports whether the city accepts the parameter name.
func (c *City) Declares(name string) bool {
	_, ok := c.params[name]
	return ok
}

// Params returns the declared parameters in declaration order.
func (c *City) Params() []Param {
	params := make([]Param, len(c.order))
	for i, name := range c.order {
		params[i] = c.params[name]
	}
	return params
}

// Result summarises a city run.
type Result struct {
	City     string
	RunID    uuid.UUID
	Counters dataflow.Counters
	Duration time.Duration
}

// Run validates params, creates the output file, runs the city and records
// its configuration in the output. The output file is closed on every exit
// path, panics included.
func (c *City) Run(ctx context.Context, params Params) (result Result, err error) {
	conf, err := c.resolve(params)
	if err != nil {
		return Result{City: c.Name}, err
	}
	result = Result{City: c.Name, RunID: conf.RunID}

	ctx, span := startRunSpan(ctx, c.Name, conf.RunID.String())
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("city %s panicked: %v", c.Name, r)
			metrics.observeRun(c.Name, result.Duration.Seconds(), panicErr)
			endSpanWithError(span, panicErr)
			panic(r)
		}
		metrics.observeRun(c.Name, result.Duration.Seconds(), err)
		endSpanWithError(span, err)
	}()

	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Running city %s, run id %s, %d input files", c.Name, conf.RunID, len(conf.FilesIn)), "city")
	}

	out, err := CreateOutputFile(conf.FileOut)
	if err != nil {
		return result, err
	}
	out.CompressionLevel = conf.CompressionLevel
	conf.Out = out
	defer func() {
		if closeErr := out.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		addSpanEvent(ctx, "output.closed", attribute.String("file", conf.FileOut))
	}()

	counters, err := c.fn(ctx, conf)
	if err != nil {
		return result, fmt.Errorf("city %s: %w", c.Name, err)
	}
	result.Counters = counters

	if err := c.writeConfiguration(conf); err != nil {
		return result, err
	}
	if err := copyInputConfiguration(conf); err != nil {
		return result, err
	}

	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("City %s done: %d events, %d passed", c.Name, counters.Total(), counters.Passed), "city")
	}
	return result, nil
}

// resolve checks params against the declaration and fills in defaults. It
// does not touch the filesystem beyond globbing files_in.
func (c *City) resolve(params Params) (*Conf, error) {
	for name := range params {
		if !c.Declares(name) {
			return nil, invalidConfig("city %s does not take parameter %q", c.Name, name)
		}
	}

	values := make(Params, len(c.params))
	for _, name := range c.order {
		p := c.params[name]
		if value, ok := params[name]; ok {
			values[name] = value
			continue
		}
		if p.Required {
			return nil, invalidConfig("city %s needs parameter %q", c.Name, name)
		}
		if p.Default != nil {
			values[name] = p.Default
		}
	}

	conf := &Conf{City: c.Name, RunID: uuid.New(), values: values}

	var err error
	if conf.EventRange, err = ResolveEventRange(values[ParamEventRange]); err != nil {
		return nil, err
	}
	if conf.FileOut, err = conf.String(ParamFileOut); err != nil {
		return nil, err
	}
	patterns, err := stringList(values[ParamFilesIn])
	if err != nil {
		return nil, invalidConfig("files_in: %v", err)
	}
	if conf.FilesIn, err = ExpandFiles(patterns...); err != nil {
		return nil, err
	}
	if c.Declares(ParamDetectorDB) {
		if conf.DetectorDB, err = conf.String(ParamDetectorDB); err != nil {
			return nil, err
		}
	}
	conf.CompressionLevel = configuration.CompressionLevel
	if conf.Has(ParamCompressionLevel) {
		if conf.CompressionLevel, err = conf.Int(ParamCompressionLevel); err != nil {
			return nil, err
		}
	}
	if conf.CompressionLevel < 0 || conf.CompressionLevel > 9 {
		return nil, invalidConfig("compression_level %d is outside [0, 9]", conf.CompressionLevel)
	}
	return conf, nil
}

func stringList(value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		list := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("value %v is %T, not a string", item, item)
			}
			list[i] = s
		}
		return list, nil
	}
	return nil, fmt.Errorf("value %v is %T, not a string or a list of strings", value, value)
}

// ExpandFiles expands environment variables and globs in patterns. The
// matches of each pattern are ordered by the number in their name, then by
// name; patterns keep the order they were given in and repeated files are
// kept. Patterns matching nothing contribute no files.
func ExpandFiles(patterns ...string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(os.ExpandEnv(pattern))
		if err != nil {
			return nil, invalidConfig("bad files_in pattern %q: %v", pattern, err)
		}
		slices.SortStableFunc(matches, func(a, b string) int {
			na, nb := fileNumber(a), fileNumber(b)
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			return strings.Compare(a, b)
		})
		files = append(files, matches...)
	}
	return files, nil
}

// fileNumber is the first purely numeric token of the file name, split on
// underscores and dots, or -1 when there is none.
func fileNumber(path string) int {
	tokens := strings.FieldsFunc(filepath.Base(path), func(r rune) bool { return r == '_' || r == '.' })
	for _, token := range tokens {
		if n, err := strconv.Atoi(token); err == nil && n >= 0 && !strings.HasPrefix(token, "+") {
			return n
		}
	}
	return -1
}

// Conf is the resolved configuration a city function runs with.
type Conf struct {
	City             string
	RunID            uuid.UUID
	FilesIn          []string
	FileOut          string
	EventRange       EventRange
	DetectorDB       string
	CompressionLevel int
	Out              *OutputFile

	values Params
}

func (c *Conf) Has(name string) bool {
	_, ok := c.values[name]
	return ok
}

func (c *Conf) Value(name string) (any, bool) {
	value, ok := c.values[name]
	return value, ok
}

func (c *Conf) lookup(name string) (any, error) {
	value, ok := c.values[name]
	if !ok {
		return nil, invalidConfig("parameter %q is not set", name)
	}
	return value, nil
}

func (c *Conf) Int(name string) (int, error) {
	value, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, nil
		}
	}
	return 0, invalidConfig("parameter %q = %v is not an integer", name, value)
}

func (c *Conf) Float(name string) (float64, error) {
	value, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
	}
	return 0, invalidConfig("parameter %q = %v is not a number", name, value)
}

func (c *Conf) String(name string) (string, error) {
	value, err := c.lookup(name)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case Sentinel:
		return string(v), nil
	}
	return "", invalidConfig("parameter %q = %v is not a string", name, value)
}

func (c *Conf) Bool(name string) (bool, error) {
	value, err := c.lookup(name)
	if err != nil {
		return false, err
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b, nil
		}
	}
	return false, invalidConfig("parameter %q = %v is not a boolean", name, value)
}

// DB opens the detector database of the run.
func (c *Conf) DB() (*sqlx.DB, error) {
	if c.DetectorDB == "" {
		return nil, invalidConfig("city %s does not declare %s", c.City, ParamDetectorDB)
	}
	return DetectorDB(c.DetectorDB)
}

// Count counts the events passing through it in the city metrics.
func (c *Conf) Count(stage string) dataflow.Stage[Event] {
	return metrics.CountStage(c.City, stage)
}

// interruptible aborts a pipeline once ctx is done.
func interruptible(ctx context.Context) dataflow.Stage[Event] {
	return dataflow.MapErr(func(event Event) (Event, error) {
		return event, ctx.Err()
	})
}

func formatParam(value any) string {
	switch v := value.(type) {
	case []string:
		return strings.Join(v, " ")
	case []any:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = fmt.Sprint(item)
		}
		return strings.Join(items, " ")
	}
	return fmt.Sprint(value)
}

func (c *City) writeConfiguration(conf *Conf) error {
	params := map[string]string{
		"run_id":              conf.RunID.String(),
		ParamFilesIn:          strings.Join(conf.FilesIn, " "),
		ParamEventRange:       conf.EventRange.String(),
		ParamCompressionLevel: strconv.Itoa(conf.CompressionLevel),
	}
	for name, value := range conf.values {
		if _, ok := params[name]; !ok {
			params[name] = formatParam(value)
		}
	}
	if c.Declares(ParamDetectorDB) {
		params[ParamDetectorDB] = conf.DetectorDB
	}

	order := make([]string, 0, len(params))
	for name := range params {
		order = append(order, name)
	}
	slices.Sort(order)
	return writeConfiguration(conf.Out, c.Name, params, order)
}

// copyInputConfiguration copies the config tables of the first input file,
// so the output records every city that produced it.
func copyInputConfiguration(conf *Conf) error {
	if len(conf.FilesIn) == 0 {
		return nil
	}
	fname := conf.FilesIn[0]
	file, err := openInputFile(fname)
	if err != nil {
		warn(fmt.Sprintf("Cannot read configuration of %s: %v", fname, err), "city")
		return nil
	}
	defer file.Close()
	if !nodeExists(file, "config") {
		return nil
	}

	group, err := file.OpenGroup("config")
	if err != nil {
		return &ErrReadTable{Filename: fname, TableName: "config", Err: err}
	}
	defer group.Close()
	n, err := group.NumObjects()
	if err != nil {
		return &ErrReadTable{Filename: fname, TableName: "config", Err: err}
	}
	for i := uint(0); i < n; i++ {
		name, err := group.ObjectNameByIndex(i)
		if err != nil {
			return &ErrReadTable{Filename: fname, TableName: "config", Err: err}
		}
		if name == conf.City {
			continue
		}
		rows, err := readTable[ConfigParamHDF5](file, fname, "config/"+name)
		if err != nil {
			warn(fmt.Sprintf("Skipping configuration %s of %s: %v", name, fname, err), "city")
			continue
		}
		if err := appendRows(conf.Out, "config/"+name, rows); err != nil {
			return err
		}
	}
	return nil
}

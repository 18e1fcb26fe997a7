package cities

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultDetectorDB is injected as detector_db when a city declares it and
// the caller leaves it out.
const DefaultDetectorDB = "new"

var databases = map[string]*sqlx.DB{}

type SensorType int

const (
	SiPM SensorType = iota
	PMT
)

func (s SensorType) String() string {
	switch s {
	case SiPM:
		return "SiPM"
	case PMT:
		return "PMT"
	default:
		return "Unknown"
	}
}

func (s SensorType) table() string {
	if s == PMT {
		return "DataPMT"
	}
	return "DataSiPM"
}

// SensorPosition is one sensor of the detector as seen by a given run.
type SensorPosition struct {
	SensorID  int     `db:"SensorID"`
	ChannelID int     `db:"ChannelID"`
	X         float64 `db:"X"`
	Y         float64 `db:"Y"`
	Active    bool    `db:"Active"`
}

func ConnectToDatabase(user string, pass string, host string, port int, dbname string) (*sqlx.DB, error) {
	dbURI := fmt.Sprintf("%s:%s@(%s:%d)/%s?parseTime=true", user, pass, host, port, dbname)
	db, err := sqlx.Connect("mysql", dbURI)
	return db, err
}

// LocalDatabasePath is the sqlite file holding the database of detector.
func LocalDatabasePath(dir string, detector string) string {
	return filepath.Join(dir, fmt.Sprintf("localdb.%sDB.sqlite3", strings.ToUpper(detector)))
}

func OpenLocalDatabase(dir string, detector string) (*sqlx.DB, error) {
	path := LocalDatabasePath(dir, detector)
	if _, err := os.Stat(path); err != nil {
		return nil, &ErrOpenFile{Filename: path, Err: err}
	}
	return sqlx.Connect("sqlite", path)
}

// DetectorDB returns the connection pool of a detector database, opening it
// on first use according to the configured driver.
func DetectorDB(detector string) (*sqlx.DB, error) {
	if db, ok := databases[detector]; ok {
		return db, nil
	}

	dbConfig := configuration.Database
	var db *sqlx.DB
	var err error
	switch dbConfig.Driver {
	case "sqlite":
		db, err = OpenLocalDatabase(dbConfig.Dir, detector)
	case "mysql":
		db, err = ConnectToDatabase(dbConfig.User, dbConfig.Passwd, dbConfig.Host, dbConfig.Port, strings.ToUpper(detector)+"DB")
	default:
		return nil, invalidConfig("unknown database driver %q", dbConfig.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s database: %w", detector, err)
	}
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Connected to %s database (%s)", detector, dbConfig.Driver), "database")
	}
	databases[detector] = db
	return db, nil
}

func closeDatabases() {
	for name, db := range databases {
		if err := db.Close(); err != nil {
			logger.Error(fmt.Sprintf("error closing %s database: %v", name, err))
		}
		delete(databases, name)
	}
}

// Monte Carlo runs carry negative run numbers and share the calibration of
// the corresponding data run.
func dbRunNumber(run int) int {
	if run < 0 {
		return -run
	}
	return run
}

const sensorsQuery = `SELECT s.SensorID, s.ChannelID, s.X, s.Y,
	CASE WHEN m.SensorID IS NULL THEN 1 ELSE 0 END AS Active
	FROM %s s
	LEFT JOIN ChannelMask m ON m.SensorID = s.SensorID AND m.MinRun <= ? AND m.MaxRun >= ?
	WHERE s.MinRun <= ? AND s.MaxRun >= ?
	ORDER BY s.SensorID`

func getSensorsFromDB(db *sqlx.DB, runNumber int, sensor SensorType) ([]SensorPosition, error) {
	run := dbRunNumber(runNumber)
	query := db.Rebind(fmt.Sprintf(sensorsQuery, sensor.table()))
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Reading %v positions from database for run %d", sensor, run), "database")
	}
	if configuration.Verbosity > 2 {
		logger.Info(fmt.Sprintf("Query: %s", query), "database")
	}

	rows, err := db.Queryx(query, run, run, run, run)
	if err != nil {
		return nil, fmt.Errorf("error querying database: %w", err)
	}
	defer rows.Close()

	var sensors []SensorPosition
	for rows.Next() {
		result := SensorPosition{}
		if err := rows.StructScan(&result); err != nil {
			return nil, fmt.Errorf("error scanning DB row: %w", err)
		}
		sensors = append(sensors, result)
	}
	return sensors, rows.Err()
}

func DataPMT(db *sqlx.DB, runNumber int) ([]SensorPosition, error) {
	return getSensorsFromDB(db, runNumber, PMT)
}

func DataSiPM(db *sqlx.DB, runNumber int) ([]SensorPosition, error) {
	return getSensorsFromDB(db, runNumber, SiPM)
}

// MigrateDetectorDB creates or upgrades the schema of a local sqlite
// detector database.
func MigrateDetectorDB(db *sqlx.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateLocalDatabase creates the sqlite file of detector in dir with the
// current schema and returns it open.
func CreateLocalDatabase(dir string, detector string) (*sqlx.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sqlx.Connect("sqlite", LocalDatabasePath(dir, detector))
	if err != nil {
		return nil, err
	}
	if err := MigrateDetectorDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "migrate")
}

func (migrateLogger) Verbose() bool {
	return configuration.Verbosity > 2
}

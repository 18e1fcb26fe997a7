package cities

// DatabaseConfig selects where detector databases live. With the sqlite
// driver each detector name maps to a file in Dir; with mysql it maps to a
// schema on Host.
type DatabaseConfig struct {
	Driver string `json:"driver" koanf:"driver"`
	Dir    string `json:"dir" koanf:"dir"`
	Host   string `json:"host" koanf:"host"`
	Port   int    `json:"port" koanf:"port"`
	User   string `json:"user" koanf:"user"`
	Passwd string `json:"pass" koanf:"pass"`
}

type Configuration struct {
	Verbosity        int            `json:"verbosity" koanf:"verbosity"`
	CompressionLevel int            `json:"compression_level" koanf:"compression_level"`
	Database         DatabaseConfig `json:"database" koanf:"database"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		Verbosity:        0,
		CompressionLevel: 4,
		Database: DatabaseConfig{
			Driver: "sqlite",
			Dir:    "database",
			Host:   "next.ific.uv.es",
			Port:   3306,
			User:   "nextreader",
			Passwd: "readonly",
		},
	}
}

var configuration = DefaultConfiguration()

func GetConfiguration() Configuration {
	return configuration
}

func SetConfiguration(config Configuration) {
	configuration = config
	closeDatabases()
}

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	cities "github.com/next-exp/cities_go/pkg"
	yamlv3 "gopkg.in/yaml.v3"
)

type Configuration struct {
	City             string                `koanf:"city"`
	Verbosity        int                   `koanf:"verbosity"`
	CompressionLevel int                   `koanf:"compression_level"`
	Database         cities.DatabaseConfig `koanf:"database"`
	MetricsFile      string                `koanf:"metrics_file"`
	Params           map[string]any        `koanf:"params"`
}

func defaultConfiguration() Configuration {
	defaults := cities.DefaultConfiguration()
	return Configuration{
		Verbosity:        defaults.Verbosity,
		CompressionLevel: defaults.CompressionLevel,
		Database:         defaults.Database,
	}
}

// LoadConfiguration layers, from low to high precedence, the defaults, the
// configuration file and CITIES_ environment variables. Nested keys use a
// double underscore: CITIES_DATABASE__DIR sets database.dir.
func LoadConfiguration(filename string) (Configuration, error) {
	config := defaultConfiguration()
	k := koanf.New(".")

	if filename != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return config, fmt.Errorf("unsupported configuration format %q", filepath.Ext(filename))
		}
		if err := k.Load(file.Provider(filename), parser); err != nil {
			return config, err
		}
	}

	envProvider := env.Provider("CITIES_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "cities_")
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return config, err
	}

	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return config, err
	}
	return config, nil
}

// libraryConfiguration is the part of config the cities package uses.
func (config Configuration) libraryConfiguration() cities.Configuration {
	return cities.Configuration{
		Verbosity:        config.Verbosity,
		CompressionLevel: config.CompressionLevel,
		Database:         config.Database,
	}
}

func printConfiguration(config Configuration, logger Logger) {
	logger.Info(fmt.Sprintf("City: %s", config.City), "config")
	logger.Info(fmt.Sprintf("Verbosity: %d", config.Verbosity), "config")
	logger.Info(fmt.Sprintf("Compression level: %d", config.CompressionLevel), "config")
	logger.Info(fmt.Sprintf("Database driver: %s", config.Database.Driver), "config")
	if config.Database.Driver == "sqlite" {
		logger.Info(fmt.Sprintf("Database dir: %s", config.Database.Dir), "config")
	} else {
		logger.Info(fmt.Sprintf("Database host: %s:%d", config.Database.Host, config.Database.Port), "config")
		logger.Info(fmt.Sprintf("Database user: %s", config.Database.User), "config")
	}
	logger.Info(fmt.Sprintf("Metrics file: %s", config.MetricsFile), "config")

	params, err := yamlv3.Marshal(config.Params)
	if err != nil {
		logger.Error(fmt.Sprintf("Cannot print city parameters: %v", err))
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(params), "\n"), "\n") {
		logger.Info(line, "params")
	}
}

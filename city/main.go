package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cities "github.com/next-exp/cities_go/pkg"
)

var logger Logger

func init() {
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	handlerStdOut := NewHandler(os.Stdout, opts)
	handlerStdErr := slog.NewJSONHandler(os.Stderr, opts)
	logger = Logger{
		InfoLog:  slog.New(handlerStdOut),
		ErrorLog: slog.New(handlerStdErr),
	}
}

func main() {
	configFilename := flag.String("config", "", "Configuration file path")
	initDB := flag.String("init-db", "", "Create or migrate the local sqlite database of this detector")
	flag.Parse()

	configuration, err := LoadConfiguration(*configFilename)
	if err != nil {
		fail(fmt.Errorf("Error reading configuration file: %w", err))
	}
	cities.SetConfiguration(configuration.libraryConfiguration())
	cities.SetLogger(logger)

	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Reading configuration file: %s", *configFilename), "main")
		printConfiguration(configuration, logger)
	}

	if *initDB != "" {
		db, err := cities.CreateLocalDatabase(configuration.Database.Dir, *initDB)
		if err != nil {
			fail(fmt.Errorf("Error creating database: %w", err))
		}
		db.Close()
		logger.Info(fmt.Sprintf("Database ready: %s", cities.LocalDatabasePath(configuration.Database.Dir, *initDB)), "main")
		if configuration.City == "" {
			return
		}
	}

	city, err := cities.DefaultRegistry().Get(configuration.City)
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := city.Run(ctx, configuration.Params)
	if configuration.MetricsFile != "" {
		if err := cities.GetMetrics().WriteToTextfile(configuration.MetricsFile); err != nil {
			logger.Error(fmt.Sprintf("Error writing metrics: %v", err))
		}
	}
	if runErr != nil {
		fail(runErr)
	}

	logger.Info(fmt.Sprintf("Run %s: %d events processed, %d passed, %d failed in %d ms",
		result.RunID, result.Counters.Total(), result.Counters.Passed, result.Counters.Failed,
		result.Duration.Milliseconds()), "main")
}

func fail(err error) {
	logger.Error(err.Error())
	os.Exit(1)
}

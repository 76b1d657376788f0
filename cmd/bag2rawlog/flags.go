package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/lherman-cs/bag2rawlog/config"
)

// Storage identifiers accepted by --storage-id.
const (
	storageAuto    = "auto"
	storageBag     = "bag"
	storageSqlite3 = "sqlite3"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Input       string
	Output      string
	ConfigPath  string
	Frame       string
	FrameSet    bool
	StorageID   string
	Overwrite   bool
	LogLevel    string
	LogFormat   string
	MetricsFile string
	NoProgress  bool
	ShowVersion bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.Output, "output",
		getEnv("BAG2RAWLOG_OUTPUT", ""),
		"Output rawlog file (env: BAG2RAWLOG_OUTPUT)")
	fs.StringVar(&cfg.Output, "o",
		getEnv("BAG2RAWLOG_OUTPUT", ""),
		"Output rawlog file (env: BAG2RAWLOG_OUTPUT)")

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("BAG2RAWLOG_CONFIG", ""),
		"Sensor configuration file (env: BAG2RAWLOG_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("BAG2RAWLOG_CONFIG", ""),
		"Sensor configuration file (env: BAG2RAWLOG_CONFIG)")

	fs.StringVar(&cfg.Frame, "frame",
		getEnv("BAG2RAWLOG_FRAME", config.DefaultRootFrame),
		"Root frame movements are measured in (env: BAG2RAWLOG_FRAME)")
	fs.StringVar(&cfg.Frame, "f",
		getEnv("BAG2RAWLOG_FRAME", config.DefaultRootFrame),
		"Root frame movements are measured in (env: BAG2RAWLOG_FRAME)")

	fs.StringVar(&cfg.StorageID, "storage-id",
		getEnv("BAG2RAWLOG_STORAGE_ID", storageAuto),
		"Input storage: auto, bag, sqlite3 (env: BAG2RAWLOG_STORAGE_ID)")

	fs.BoolVar(&cfg.Overwrite, "overwrite",
		getEnvBool("BAG2RAWLOG_OVERWRITE", false),
		"Replace an existing output file (env: BAG2RAWLOG_OVERWRITE)")
	fs.BoolVar(&cfg.Overwrite, "w",
		getEnvBool("BAG2RAWLOG_OVERWRITE", false),
		"Replace an existing output file (env: BAG2RAWLOG_OVERWRITE)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("BAG2RAWLOG_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: BAG2RAWLOG_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("BAG2RAWLOG_LOG_FORMAT", "text"),
		"Log format: json, text (env: BAG2RAWLOG_LOG_FORMAT)")

	fs.StringVar(&cfg.MetricsFile, "metrics-file",
		getEnv("BAG2RAWLOG_METRICS_FILE", ""),
		"Write run metrics in the Prometheus textfile format (env: BAG2RAWLOG_METRICS_FILE)")

	fs.BoolVar(&cfg.NoProgress, "no-progress",
		getEnvBool("BAG2RAWLOG_NO_PROGRESS", false),
		"Do not print progress (env: BAG2RAWLOG_NO_PROGRESS)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), `%s - convert ROS bags into rawlogs

Usage: %s [options] <input bag>

Options:
`, appName, appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "frame" || f.Name == "f" {
			cfg.FrameSet = true
		}
	})
	if os.Getenv("BAG2RAWLOG_FRAME") != "" {
		cfg.FrameSet = true
	}

	switch fs.NArg() {
	case 0:
	case 1:
		cfg.Input = fs.Arg(0)
	default:
		return nil, fmt.Errorf("expected one input bag, got %d arguments", fs.NArg())
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	var errs []error
	if cfg.Input == "" {
		errs = append(errs, errors.New("missing input bag"))
	}
	if cfg.Output == "" {
		errs = append(errs, errors.New("missing output file (-o)"))
	}
	if cfg.ConfigPath == "" {
		errs = append(errs, errors.New("missing configuration file (-c)"))
	}
	if cfg.Frame == "" {
		errs = append(errs, errors.New("empty root frame"))
	}

	if !contains([]string{storageAuto, storageBag, storageSqlite3}, cfg.StorageID) {
		errs = append(errs, fmt.Errorf("invalid storage id: %s", cfg.StorageID))
	}
	if !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid log level: %s", cfg.LogLevel))
	}
	if !contains([]string{"json", "text"}, cfg.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid log format: %s", cfg.LogFormat))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

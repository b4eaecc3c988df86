package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/springsnail/tcplb/internal/config"
	"github.com/springsnail/tcplb/internal/logging"
	"github.com/springsnail/tcplb/internal/supervisor"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	help    bool
	version bool
	debug   bool
	config  string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.BoolVar(&f.help, "h", false, "Print usage and exit")
	flag.BoolVar(&f.version, "v", false, "Print version and exit")
	flag.BoolVar(&f.debug, "x", false, "Set log level to DEBUG")
	flag.StringVar(&f.config, "f", "", "Path to configuration file (required)")
	flag.Parse()
	return f
}

func run() error {
	flags := parseFlags()

	if flags.help {
		flag.Usage()
		os.Exit(0)
	}
	if flags.version {
		fmt.Println("tcplb " + version)
		os.Exit(0)
	}
	if flags.config == "" {
		return fmt.Errorf("missing required -f <config> flag")
	}

	cfg, err := config.Load(flags.config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if flags.debug {
		level = "DEBUG"
	}
	logger := logging.Configure(logging.Config{
		Level:            level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
	})
	logger.Info("tcplb starting",
		"listen", cfg.Listen,
		"hosts", len(cfg.Hosts),
		"buffer_size", cfg.BufferSize,
		"admin_api", cfg.Admin.Enabled,
	)

	runner := supervisor.NewRunner(logger)
	if err := runner.Run(cfg); err != nil {
		return fmt.Errorf("tcplb exited with error: %w", err)
	}
	return nil
}

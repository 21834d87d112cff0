package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wudi/analyzer/internal/config"
	"github.com/wudi/analyzer/internal/logging"
	"github.com/wudi/analyzer/internal/server"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("analyzer %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.NewLoader().Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	os.Exit(run(cfg, *configPath))
}

// run returns the process exit code. A drain that had to abandon requests
// still exits 0.
func run(cfg *config.Config, configPath string) int {
	logger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.Rotation.MaxSize,
		MaxBackups: cfg.Logging.Rotation.MaxBackups,
		MaxAge:     cfg.Logging.Rotation.MaxAge,
		Compress:   cfg.Logging.Rotation.Compress,
		LocalTime:  cfg.Logging.Rotation.LocalTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	logging.SetGlobal(logger)
	defer closeLog(closer)

	logging.Info("Starting analyzer",
		zap.String("version", version),
		zap.String("config", configPath),
		zap.String("address", cfg.Server.Address()),
		zap.Duration("grace_period", cfg.Shutdown.GracePeriod),
	)

	srv, err := server.New(cfg, server.Options{
		Version:    version,
		ConfigPath: configPath,
	})
	if err != nil {
		logging.Error("Failed to create server", zap.Error(err))
		return 1
	}

	res, err := srv.Run()
	if err != nil {
		logging.Error("Server error", zap.Error(err))
		return 1
	}
	if res.Forced {
		logging.Warn("Exited after forced shutdown", zap.Int64("abandoned_requests", res.Abandoned))
	}
	return 0
}

func closeLog(c io.Closer) {
	logging.Sync()
	if c != nil {
		c.Close()
	}
}

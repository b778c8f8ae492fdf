package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dougsko/steppird/pkg/config"
	"github.com/dougsko/steppird/pkg/engine"
	"github.com/dougsko/steppird/pkg/logging"
)

var (
	configPath = flag.String("config", "config.yaml", "Configuration file path")
	version    = flag.Bool("version", false, "Show version information")
	verbose    = flag.Bool("verbose", false, "Log at debug level regardless of configuration")
)

const Build = "development"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("steppird version %s (%s)\n", engine.Version, Build)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("No configuration at %s, using defaults", *configPath)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Console = true
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.InitGlobalLogger(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Info("main", fmt.Sprintf("steppird version %s starting...", engine.Version))
	logging.Info("main", fmt.Sprintf("Radio CAT server: %s", cfg.RadioAddress()))
	logging.Info("main", fmt.Sprintf("CAT listener: %s", cfg.ListenerAddress()))
	if cfg.Antenna.UseMock {
		logging.Info("main", "Antenna: mock controller")
	} else {
		logging.Info("main", fmt.Sprintf("Antenna: SDA-100 on %s at %d baud", cfg.Antenna.Device, cfg.Antenna.BaudRate))
	}
	if cfg.Web.Enabled {
		logging.Info("main", fmt.Sprintf("Web interface: http://%s", cfg.WebAddress()))
	}

	daemon := NewStepDaemon(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Error("main", fmt.Sprintf("Failed to start daemon: %v", err))
		os.Exit(1)
	}

	logging.Info("main", "steppird started successfully")

	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Error("main", fmt.Sprintf("Error during shutdown: %v", err))
	}

	logging.Info("main", "steppird stopped")
}

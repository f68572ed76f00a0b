// trustcored runs Trust Core's background license validation loop as a
// long-lived process, for hosts that don't embed the facade directly
// into their own event loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"trustcore/internal/config"
	"trustcore/internal/logging"
	"trustcore/internal/trustcore"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	Commit    = "unknown"
)

var (
	configPath  = flag.String("config", "", "path to config file")
	showVersion = flag.Bool("version", false, "show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("trustcored %s (build %s, commit %s)\n", Version, BuildTime, Commit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trustcored: loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "trustcored: invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(&logging.Config{
		Level:     logging.LevelInfo,
		Format:    logging.FormatJSON,
		Output:    "both",
		FilePath:  cfg.LogPath,
		Component: "trustcored",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "trustcored: starting logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	core, err := trustcore.Open(cfg, log)
	if err != nil {
		log.Error("trustcored: failed to open trust core", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	log.Info("trustcored: started", "device_id", core.GetDeviceID(), "data_dir", cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core.ScheduleBackgroundValidation(ctx, cfg.ValidationInterval())
	log.Info("trustcored: shutting down")
}

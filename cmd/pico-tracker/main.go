// Command pico-tracker runs the rendezvous tracker that maps filenames to the
// peers seeding them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fabricionaweb/pico-share/internal/logging"
	"github.com/fabricionaweb/pico-share/tracker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if cfg.showVersion {
		fmt.Println(version)
		return 0
	}

	logging.Setup(cfg.debug, os.Stderr)
	log.Debug().Msg("debug mode enabled")

	srv := tracker.NewServer(tracker.Config{
		AllowlistPath: cfg.allowlistPath,
		RateLimit:     cfg.registerRate,
		MaxConns:      cfg.maxConns,
		IOTimeout:     cfg.timeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, cfg.port); err != nil {
		log.Error().Err(err).Msg("tracker error")
		return 1
	}
	return 0
}

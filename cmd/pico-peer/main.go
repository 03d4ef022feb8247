// Command pico-peer seeds files to, and downloads files from, other peers
// located through a pico-tracker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fabricionaweb/pico-share/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 1 && (args[0] == "-v" || args[0] == "--version") {
		fmt.Println(version)
		return 0
	}

	cfg, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		usage()
		return 2
	}

	logging.Setup(cfg.debug, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cmdErr error
	switch cfg.command {
	case "seed":
		cmdErr = runSeed(ctx, cfg)
	case "peers":
		cmdErr = runPeers(ctx, cfg, os.Stdout)
	case "get":
		cmdErr = runGet(ctx, cfg, os.Stdout)
	case "create":
		cmdErr = runCreate(cfg, os.Stdout)
	}

	if cmdErr != nil {
		log.Error().Err(cmdErr).Str("command", cfg.command).Msg("failed")
		return 1
	}
	return 0
}

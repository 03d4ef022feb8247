package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"
)

const envPrefix = "PICO_PEER"

var commands = map[string]string{
	"seed":   "seed <path>       register a file with the tracker and serve it",
	"peers":  "peers <filename>  list the endpoints seeding a file",
	"get":    "get <filename>    download a file from one of its seeders",
	"create": "create <path>     write a descriptor file for path",
}

//nolint:govet // Field alignment is acceptable
type config struct {
	command    string
	args       []string
	tracker    string
	trackerSet bool // given by flag, env or config file rather than defaulted
	chunkSize  datasize.ByteSize
	timeout    time.Duration
	keepFailed bool
	maxConns   int
	debug      bool

	port       int    // seed
	descriptor string // seed writes it, get reads it
	output     string // get, create
	peerIndex  int    // get
}

func usage() {
	fmt.Fprintf(os.Stderr, "\nPico Peer: %s\n\nUsage: pico-peer <command> [flags] <argument>\n\nCommands:\n", version)
	for _, name := range []string{"seed", "peers", "get", "create"} {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name])
	}
	fmt.Fprintf(os.Stderr, "\nRun pico-peer <command> --help for its flags.\n\n")
}

// parseFlags resolves the subcommand and its configuration. Precedence is
// command line, PICO_PEER_* environment variables, the --config file, then
// defaults. DEBUG also enables debug logs.
func parseFlags(args []string) (config, error) {
	if len(args) == 0 {
		return config{}, xerrors.New("missing command")
	}
	name := args[0]
	if _, ok := commands[name]; !ok {
		return config{}, xerrors.Errorf("unknown command %q", name)
	}

	fs := pflag.NewFlagSet("pico-peer "+name, pflag.ContinueOnError)
	fs.StringP("tracker", "t", "127.0.0.1:9000", "tracker address host:port [env PICO_PEER_TRACKER]")
	fs.String("chunk-size", "1KB", "transfer chunk size, e.g. 1KB or 64KB [env PICO_PEER_CHUNK_SIZE]")
	fs.Duration("timeout", 30*time.Second, "dial and idle I/O timeout, 0 disables [env PICO_PEER_TIMEOUT]")
	fs.BoolP("debug", "d", false, "enable debug logs [env DEBUG]")
	fs.StringP("config", "c", "", "optional YAML config file")

	switch name {
	case "seed":
		fs.IntP("port", "p", 6001, "port to serve the file on [env PICO_PEER_PORT]")
		fs.Int("max-conns", 0, "concurrent uploads, 0 is unbounded [env PICO_PEER_MAX_CONNS]")
		fs.String("descriptor", "", "also write a descriptor file to this path")
	case "get":
		fs.StringP("output", "o", "", "destination path, defaults to the filename")
		fs.Int("peer", 0, "index of the endpoint to download from")
		fs.String("descriptor", "", "descriptor file the download must match")
		fs.Bool("keep-failed", false, "keep corrupt or partial downloads [env PICO_PEER_KEEP_FAILED]")
	case "create":
		fs.StringP("output", "o", "", "descriptor path, defaults to <path>.pshare")
	}

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "\nUsage: pico-peer %s\n\n", commands[name])
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}

	if err := fs.Parse(args[1:]); err != nil {
		return config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return config{}, xerrors.Errorf("bind flags: %w", err)
	}
	if err := v.BindEnv("debug", envPrefix+"_DEBUG", "DEBUG"); err != nil {
		return config{}, xerrors.Errorf("bind debug env: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, xerrors.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := config{
		command:    name,
		args:       fs.Args(),
		tracker:    v.GetString("tracker"),
		trackerSet: v.IsSet("tracker"),
		timeout:    v.GetDuration("timeout"),
		keepFailed: v.GetBool("keep-failed"),
		maxConns:   v.GetInt("max-conns"),
		debug:      v.GetBool("debug"),
		port:       v.GetInt("port"),
		descriptor: v.GetString("descriptor"),
		output:     v.GetString("output"),
		peerIndex:  v.GetInt("peer"),
	}

	if err := cfg.chunkSize.UnmarshalText([]byte(v.GetString("chunk-size"))); err != nil {
		return config{}, xerrors.Errorf("invalid chunk size %q: %w", v.GetString("chunk-size"), err)
	}
	if cfg.chunkSize == 0 || cfg.chunkSize > 64*datasize.MB {
		return config{}, xerrors.Errorf("chunk size %s out of range", cfg.chunkSize.HR())
	}
	if name == "seed" && (cfg.port <= 0 || cfg.port > 65535) {
		return config{}, xerrors.Errorf("invalid port %q", v.GetString("port"))
	}
	if cfg.timeout < 0 || cfg.maxConns < 0 || cfg.peerIndex < 0 {
		return config{}, xerrors.New("timeout, max-conns and peer must not be negative")
	}

	if len(cfg.args) > 1 {
		return config{}, xerrors.Errorf("%s takes a single argument", name)
	}
	if len(cfg.args) == 0 && !(name == "get" && cfg.descriptor != "") {
		return config{}, xerrors.Errorf("usage: pico-peer %s", commands[name])
	}
	return cfg, nil
}

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"
)

const envPrefix = "PICO_TRACKER"

//nolint:govet // Field alignment is acceptable
type config struct {
	port          int
	allowlistPath string
	registerRate  int
	maxConns      int
	timeout       time.Duration
	debug         bool
	showVersion   bool
}

// parseFlags resolves the configuration from, in order of precedence, the
// command line, PICO_TRACKER_* environment variables, the file named by
// --config and the built-in defaults. DEBUG also enables debug logs.
func parseFlags(args []string) (config, error) {
	fs := pflag.NewFlagSet("pico-tracker", pflag.ContinueOnError)
	fs.IntP("port", "p", 9000, "port to listen on [env PICO_TRACKER_PORT]")
	fs.StringP("allowlist", "a", "",
		"file of filenames allowed to register, private mode when set [env PICO_TRACKER_ALLOWLIST]")
	fs.Int("register-rate", 0, "requests per minute allowed per source IP, 0 disables [env PICO_TRACKER_REGISTER_RATE]")
	fs.Int("max-conns", 0, "concurrent connections served, 0 is unbounded [env PICO_TRACKER_MAX_CONNS]")
	fs.Duration("timeout", 10*time.Second, "per-connection I/O deadline, 0 disables [env PICO_TRACKER_TIMEOUT]")
	fs.BoolP("debug", "d", false, "enable debug logs [env DEBUG]")
	fs.StringP("config", "c", "", "optional YAML config file")
	fs.BoolP("version", "v", false, "print version")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "\nPico Tracker: %s\nFile sharing rendezvous tracker (TCP)\n\n", version)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}

	if err := fs.Parse(args); err != nil {
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
		port:          v.GetInt("port"),
		allowlistPath: v.GetString("allowlist"),
		registerRate:  v.GetInt("register-rate"),
		maxConns:      v.GetInt("max-conns"),
		timeout:       v.GetDuration("timeout"),
		debug:         v.GetBool("debug"),
		showVersion:   v.GetBool("version"),
	}

	if cfg.port <= 0 || cfg.port > 65535 {
		return config{}, xerrors.Errorf("invalid port %q", v.GetString("port"))
	}
	if cfg.registerRate < 0 || cfg.maxConns < 0 || cfg.timeout < 0 {
		return config{}, xerrors.New("register-rate, max-conns and timeout must not be negative")
	}
	return cfg, nil
}

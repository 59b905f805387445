package main

import (
	"flag"
	"time"
)

// Config holds client runtime configuration.
type Config struct {
	Relay          string
	Port           int
	LocalHost      string
	LocalTLS       bool
	ForwardTimeout time.Duration
	MetricsAddr    string
	Debug          bool
}

var cfg Config

// init registers all client flags into the default flag set; main() parses.
func init() {
	flag.StringVar(&cfg.Relay, "relay", "wss://relay.burrow.dev/register", "relay control channel endpoint")
	flag.IntVar(&cfg.Port, "port", 0, "local port to expose (required)")
	flag.StringVar(&cfg.LocalHost, "local-host", "localhost", "local host to forward requests to")
	flag.BoolVar(&cfg.LocalTLS, "local-tls", false, "use https towards the local service")
	flag.DurationVar(&cfg.ForwardTimeout, "forward-timeout", 0, "per-request forward timeout (0 = default 25s)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", "", "metrics and health listen address (empty = disabled)")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
}

package main

import (
	"github.com/urfave/cli/v3"
)

const (
	flagConfig  = "config"
	flagTimeout = "timeout"
	envConfig   = "TTS_GATEWAY_CONFIG"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// App returns the root command of the gateway binary.
func App() *cli.Command {
	return &cli.Command{
		Name:    "tts-gateway",
		Version: version,
		Usage:   "Slot-scheduled text-to-speech gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "path to a TOML config file (defaults to the configurator lookup)",
				Sources: cli.EnvVars(envConfig),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			healthCommand(),
			slotsCommand(),
		},
	}
}

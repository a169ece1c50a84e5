package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/goscar/internal/config"
	"github.com/danmuck/goscar/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "flapctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("flapctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "flapctl config file")
	enginePath := fs.String("engine", "", "engine config file (overrides the config file)")
	input := fs.String("input", "", "capture to decode, - for stdin (overrides the config file)")
	format := fs.String("format", "", "input format: raw|hex")
	framing := fs.String("framing", "", "capture framing: stream|rendezvous")
	serve := fs.Bool("serve", false, "serve /report and /metrics after decoding")
	initKind := fs.String("init", "", "write a config template: engine|flapctl")
	output := fs.String("output", "", "template output path")
	force := fs.Bool("force", false, "overwrite an existing template")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logging.ConfigureRuntime()

	if *initKind != "" {
		target := *output
		if target == "" {
			target = *initKind + ".toml"
		}
		if err := config.WriteTemplate(target, *initKind, *force); err != nil {
			return err
		}
		log.Info().Str("kind", *initKind).Str("path", target).Msg("wrote config template")
		return nil
	}

	cli := defaultCLIConfig()
	if *configPath != "" {
		loaded, err := loadCLIConfig(*configPath)
		if err != nil {
			return err
		}
		cli = loaded
	}
	if *enginePath != "" {
		cli.EnginePath = *enginePath
	}
	if *input != "" {
		cli.Input = *input
	}
	if *format != "" {
		v, err := parseFormat(*format)
		if err != nil {
			return err
		}
		cli.Format = v
	}
	if *framing != "" {
		v, err := parseFraming(*framing)
		if err != nil {
			return err
		}
		cli.Framing = v
	}
	if *serve {
		cli.Serve = true
	}

	eng := config.DefaultEngine()
	if cli.EnginePath != "" {
		loaded, err := config.LoadEngineConfig(cli.EnginePath)
		if err != nil {
			return err
		}
		eng = loaded
	}
	applyEngineLogLevel(eng)

	if cli.Input == "" {
		return fmt.Errorf("no input capture given")
	}
	in := os.Stdin
	if cli.Input != "-" {
		f, err := os.Open(cli.Input)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer f.Close()
		in = f
	}
	data, err := readInput(in, cli.Format)
	if err != nil {
		return err
	}

	rep, decodeErr := decodeCapture(data, eng, cli.Framing)
	if rep == nil {
		return decodeErr
	}
	if decodeErr != nil {
		log.Warn().Err(decodeErr).Int("frames", len(rep.Frames)).Msg("capture ended with a framing error")
	}
	if cli.Table {
		renderFrames(os.Stdout, rep.Frames)
	}
	renderSummary(os.Stdout, rep)

	if !cli.Serve {
		return nil
	}
	addr := eng.MetricsAddr
	if addr == "" {
		addr = "127.0.0.1:9464"
	}
	gin.SetMode(gin.ReleaseMode)
	router := newStatusRouter(rep, eng.CorsOrigins)
	log.Info().Str("addr", addr).Msg("serving decode report")
	return router.Run(addr)
}

// applyEngineLogLevel lets an engine file's log_level win over the
// environment, but only when the file sets one.
func applyEngineLogLevel(eng config.Engine) {
	if eng.LogLevelSet {
		zerolog.SetGlobalLevel(eng.LogLevel)
	}
}

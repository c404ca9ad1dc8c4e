package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/k4md/engine/internal/config"
	"github.com/k4md/engine/internal/k4err"
	"github.com/k4md/engine/internal/pipeline"
)

const (
	exitOK        = 0
	exitConfig    = 1
	exitStartup   = 2
	exitInterrupt = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	logLevel := flag.String("log-level", "", "override logging.level from the config file")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: runner <config-file> [--log-level LEVEL]")
		return exitConfig
	}
	cfgPath := flag.Arg(0)
	// flag.Parse stops at the config file, so parse any flags after it too.
	if err := flag.CommandLine.Parse(flag.Args()[1:]); err != nil || flag.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: runner <config-file> [--log-level LEVEL]")
		return exitConfig
	}

	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {})); err != nil {
		fmt.Fprintf(os.Stderr, "runner: maxprocs: %v\n", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		var cfgErr *k4err.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "runner: %v\n", cfgErr)
			return exitConfig
		}
		fmt.Fprintf(os.Stderr, "runner: load config: %v\n", err)
		return exitConfig
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	log := newLogger(level, cfg.Application.LogPath)
	log.Info().Str("module", cfg.Application.ModuleName).Str("config", cfgPath).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	engine := pipeline.New(cfg, log)
	if err := engine.InitSHM(); err != nil {
		log.Error().Err(err).Msg("init shm failed")
		return exitStartup
	}
	if err := engine.Start(ctx); err != nil {
		log.Error().Err(err).Msg("start failed")
		return exitStartup
	}

	sig := <-sigCh
	cancel()
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := engine.Stop(); err != nil {
		log.Error().Err(err).Msg("stop did not complete cleanly")
	}
	log.Info().Msg("stopped")

	if sig == os.Interrupt {
		return exitInterrupt
	}
	return exitOK
}

func newLogger(level, logPath string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var out = os.Stderr
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			return zerolog.New(f).Level(lvl).With().Timestamp().Logger()
		}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

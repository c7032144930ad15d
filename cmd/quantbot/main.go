package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"quantbot/internal/config"
	"quantbot/pkg/logger"
	"quantbot/pkg/tracing"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const usage = `usage: quantbot <command> [flags]

commands:
  backtest   replay history through the SMA crossover strategy and report
  live       trade the strategy against a live feed until interrupted
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd := args[0]
	switch cmd {
	case "backtest", "live":
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	config.RegisterFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	logger.SetServiceName("quantbot-" + cmd)
	tracing.SetServiceName("quantbot-" + cmd)
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	if cfg.Telemetry.Enabled {
		_, closeTracer, err := tracing.InitTracer(tracing.Config{
			Host: cfg.Telemetry.JaegerHost,
			Port: cfg.Telemetry.JaegerPort,
		}, log)
		if err != nil {
			log.Warn("tracing disabled", zap.Error(err))
		} else {
			defer closeTracer()
		}
	}

	switch cmd {
	case "backtest":
		err = runBacktest(ctx, cfg, log, stdout)
	case "live":
		err = runLive(ctx, cfg, log)
	}
	if err != nil {
		log.Error(cmd+" failed", zap.Error(err))
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}

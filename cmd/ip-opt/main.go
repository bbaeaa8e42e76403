package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/ip-opt/internal/app"
)

func main() {
	opts := app.DefaultOptions()

	flag.StringVar(&opts.CandidatesPath, "candidates", "", "candidate document (JSON or YAML); empty uses the built-in list")
	flag.StringVar(&opts.HostsPath, "hosts", opts.HostsPath, "hosts file to rewrite")
	flag.StringVar(&opts.DNSServer, "dns", "", "upstream DNS server for non-literal candidates")
	flag.DurationVar(&opts.DNSTimeout, "dns-timeout", opts.DNSTimeout, "timeout for each upstream DNS query")
	flag.IntVar(&opts.Engine.Port, "port", opts.Engine.Port, "TCP port to probe")
	flag.DurationVar(&opts.Engine.Timeout, "timeout", opts.Engine.Timeout, "per-probe connect timeout")
	flag.IntVar(&opts.Engine.Concurrency, "concurrency", opts.Engine.Concurrency, "probes in flight, 0 for one per candidate")
	flag.BoolVar(&opts.Engine.FailureDisqualifies, "strict", false, "ignore candidates whose connection failed")
	flag.BoolVar(&opts.Backup, "backup", false, "back up the hosts file before rewriting it")
	flag.StringVar(&opts.RestorePath, "restore", "", "restore the hosts file from this backup and exit")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "print the new hosts file instead of writing it")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger := newLogger(*verbose)
	defer func() { _ = logger.Sync() }()

	if err := app.Run(context.Background(), opts, os.Stdout, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

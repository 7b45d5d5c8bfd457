package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"holoncert/pkg/common/logger"
	"holoncert/pkg/engine"
	"holoncert/pkg/history"
	"holoncert/pkg/report"
)

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// reports go to stdout; logs stay on stderr
	logCfg := logger.DefaultConfig()
	logCfg.Level = opts.logLevel
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	exp, err := opts.expectation()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	g, err := engine.New(exp)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	verdict := g.Run(context.Background())

	reporterOpts := []report.Option{}
	if opts.reportFile != "" {
		reporterOpts = append(reporterOpts, report.WithFile(afero.NewOsFs(), opts.reportFile))
	}
	reporter := report.New(os.Stdout, opts.sdk, opts.serverSDK, reporterOpts...)
	if _, err := reporter.Emit(verdict); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if opts.historyDB != "" {
		if err := appendHistory(opts, verdict); err != nil {
			logger.WithComponent("history").Warn().Err(err).Msg("verdict not recorded")
		}
	}

	if verdict.Status != engine.StatusPass {
		if verdict.Reason != "" {
			fmt.Fprintln(os.Stderr, verdict.Reason)
		}
		os.Exit(1)
	}
}

func appendHistory(opts *options, v engine.Verdict) error {
	store, err := history.Open(opts.historyDB)
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.Append(opts.endpoint, opts.sdk, opts.serverSDK, v)
	return err
}

// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/matt-FFFFFF/tsh/internal/config"
	"github.com/matt-FFFFFF/tsh/internal/ctxlog"
	"github.com/matt-FFFFFF/tsh/internal/jobs"
	"github.com/matt-FFFFFF/tsh/internal/reconciler"
	"github.com/matt-FFFFFF/tsh/internal/shell"
	"github.com/matt-FFFFFF/tsh/internal/signalbroker"
	"github.com/urfave/cli/v3"
)

const (
	helpFlag     = "h"
	verboseFlag  = "v"
	noPromptFlag = "p"
	configFlag   = "config"
	configEnvVar = "TSH_CONFIG"
)

// input is the stream command lines are read from.
var input io.Reader = os.Stdin

// exit ends the process when the reconciler hits a fatal condition.
var exit = os.Exit

// newRootCmd returns the root command for the CLI.
func newRootCmd() *cli.Command {
	return &cli.Command{
		Name:                   "tsh",
		Usage:                  "a tiny shell with job control",
		HideHelp:               true,
		HideVersion:            true,
		UseShortOptionHandling: true,
		Writer:                 os.Stdout,
		ErrWriter:              os.Stderr,
		Copyright:              "Copyright (c) matt-FFFFFF 2025. All rights reserved.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  helpFlag,
				Usage: "print this message",
			},
			&cli.BoolFlag{
				Name:  verboseFlag,
				Usage: "print additional diagnostic information",
			},
			&cli.BoolFlag{
				Name:  noPromptFlag,
				Usage: "do not emit a command prompt",
			},
			&cli.StringFlag{
				Name:      configFlag,
				Usage:     "read settings from a YAML or HCL file",
				TakesFile: true,
				Sources:   cli.EnvVars(configEnvVar),
			},
		},
		OnUsageError: func(_ context.Context, cmd *cli.Command, err error, _ bool) error {
			fmt.Fprintln(cmd.Root().Writer, err.Error()) //nolint:errcheck
			printUsage(cmd.Root().Writer)

			return cli.Exit("", 1)
		},
		// Exit codes are turned into process status by main, not by the framework.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Action:         actionFunc,
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: tsh [-hvp]
   -h   print this message
   -v   print additional diagnostic information
   -p   do not emit a command prompt
   --config FILE   read settings from a YAML or HCL file (env `+configEnvVar+`)
`) //nolint:errcheck
}

// loadConfig applies flags over the config file over the defaults.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String(configFlag))
	if err != nil {
		return cfg, err
	}

	if cmd.Bool(verboseFlag) {
		cfg.Verbose = true
	}

	if cmd.Bool(noPromptFlag) {
		cfg.EmitPrompt = false
	}

	if cfg.Verbose {
		cfg.LogLevel = "DEBUG"
	}

	return cfg, nil
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer

	if cmd.Bool(helpFlag) {
		printUsage(out)
		return cli.Exit("", 1)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if cfg.LogLevel != "" {
		ctxlog.SetLevel(cfg.LogLevel)
	}

	tableOpts := []jobs.Option{jobs.WithOutput(out)}
	if cfg.Verbose {
		tableOpts = append(tableOpts, jobs.WithTrace(out))
	}

	table := jobs.New(cfg.MaxJobs, tableOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := signalbroker.New(ctx)
	defer signalbroker.Stop(sigCh)

	reconciled := make(chan struct{})

	go func() {
		defer close(reconciled)

		err := reconciler.New(table, out).Run(ctx, sigCh)
		if err == nil {
			return
		}

		if !errors.Is(err, reconciler.ErrQuit) {
			ctxlog.Error(ctx, "signal handling failed", "error", err)
		}

		exit(1)
	}()

	ctxlog.Debug(ctx, "shell started", "prompt", cfg.EmitPrompt, "maxJobs", cfg.MaxJobs)

	err = shell.New(cfg, table, out).Run(ctx, input)

	cancel()
	<-reconciled

	if err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(err.Error(), 1)
	}

	return nil
}

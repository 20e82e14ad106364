// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main is the entry point for the tsh shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/matt-FFFFFF/tsh"
	"github.com/matt-FFFFFF/tsh/internal/color"
	"github.com/matt-FFFFFF/tsh/internal/ctxlog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sys/unix"
)

func main() {
	// Everything the shell and its children report goes to stdout, so a driver reading
	// stdout sees messages in order.
	if err := unix.Dup2(int(os.Stdout.Fd()), int(os.Stderr.Fd())); err != nil {
		fmt.Fprintf(os.Stdout, "dup2 error: %s\n", err) //nolint:errcheck
		os.Exit(1)
	}

	// Colour detection looked at stderr before it was replaced.
	color.Refresh()

	ctx := ctxlog.New(context.Background(), ctxlog.NewLogger(os.Stderr))

	rootCmd := newRootCmd()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", tsh.Version, tsh.Commit)

	err := rootCmd.Run(ctx, os.Args)
	if err == nil {
		os.Exit(0)
	}

	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			fmt.Fprintln(os.Stdout, msg) //nolint:errcheck
		}

		os.Exit(exitErr.ExitCode())
	}

	ctxlog.Logger(ctx).Error("command failed", "error", err)
	os.Exit(1)
}

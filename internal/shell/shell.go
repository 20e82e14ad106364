// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package shell is the read-eval loop: it reads a line, splits it into words, runs it
// as a builtin or launches it as a pipeline, and prompts again.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/anmitsu/go-shlex"
	"github.com/matt-FFFFFF/tsh/internal/builtin"
	"github.com/matt-FFFFFF/tsh/internal/config"
	"github.com/matt-FFFFFF/tsh/internal/ctxlog"
	"github.com/matt-FFFFFF/tsh/internal/jobs"
	"github.com/matt-FFFFFF/tsh/internal/launcher"
	"github.com/matt-FFFFFF/tsh/internal/pipeline"
	"github.com/peterh/liner"
	"golang.org/x/term"
)

// ErrReadInput is returned when the input cannot be read.
var ErrReadInput = errors.New("failed to read input")

// Shell evaluates command lines against a job table.
type Shell struct {
	cfg      config.Config
	out      io.Writer
	builtins *builtin.Dispatcher
	launcher *launcher.Launcher
}

// Option configures a Shell.
type Option func(s *shellOptions)

type shellOptions struct {
	launcher []launcher.Option
}

// WithLauncherOptions passes opts to the launcher the shell creates.
func WithLauncherOptions(opts ...launcher.Option) Option {
	return func(s *shellOptions) {
		s.launcher = append(s.launcher, opts...)
	}
}

// New creates a Shell. Prompts, acknowledgments and error reports are written to out.
func New(cfg config.Config, table *jobs.Table, out io.Writer, opts ...Option) *Shell {
	o := &shellOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return &Shell{
		cfg:      cfg,
		out:      out,
		builtins: builtin.New(table, out),
		launcher: launcher.New(table, out, o.launcher...),
	}
}

// Tokenize splits line into words. Quoted spans, single or double, are kept as one word.
func Tokenize(line string) ([]string, error) {
	return shlex.Split(line, true)
}

// Eval runs one command line. Failures of the command are reported on the shell's
// output and do not end the shell; only a done context is returned as an error.
func (s *Shell) Eval(ctx context.Context, line string) error {
	cmdline := strings.TrimRight(line, "\r\n")

	argv, err := Tokenize(cmdline)
	if err != nil {
		return s.report(ctx, fmt.Errorf("%s: %w", cmdline, err))
	}

	if len(argv) == 0 {
		return nil
	}

	handled, err := s.builtins.Dispatch(ctx, argv)
	if handled {
		return s.report(ctx, err)
	}

	p, err := pipeline.Build(argv)
	if err != nil {
		return s.report(ctx, err)
	}

	err = s.launcher.Launch(ctx, cmdline, p)
	if errors.Is(err, launcher.ErrNothingStarted) {
		// Every stage has already said why it did not start.
		return nil
	}

	return s.report(ctx, err)
}

func (s *Shell) report(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	ctxlog.Debug(ctx, "command failed", "error", err)
	fmt.Fprintln(s.out, err.Error()) //nolint:errcheck

	return nil
}

// Run reads and evaluates lines from in until end of input, which is not an error.
// When in is a terminal and prompting is enabled the line editor is used.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	if f, ok := in.(*os.File); ok && s.cfg.EmitPrompt && f.Fd() == os.Stdin.Fd() && term.IsTerminal(int(f.Fd())) {
		return s.runInteractive(ctx)
	}

	return s.runScripted(ctx, in)
}

func (s *Shell) runScripted(ctx context.Context, in io.Reader) error {
	r := bufio.NewReader(in)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.cfg.EmitPrompt {
			fmt.Fprint(s.out, s.cfg.Prompt) //nolint:errcheck
		}

		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", ErrReadInput, err)
		}

		if line != "" {
			if everr := s.Eval(ctx, line); everr != nil {
				return everr
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func (s *Shell) runInteractive(ctx context.Context) error {
	editor := liner.NewLiner()
	defer editor.Close() //nolint:errcheck

	editor.SetCtrlCAborts(true)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := editor.Prompt(s.cfg.Prompt)

		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(s.out) //nolint:errcheck
			return nil
		case err != nil:
			return fmt.Errorf("%w: %w", ErrReadInput, err)
		}

		if strings.TrimSpace(line) != "" {
			editor.AppendHistory(line)
		}

		if err := s.Eval(ctx, line); err != nil {
			return err
		}
	}
}
